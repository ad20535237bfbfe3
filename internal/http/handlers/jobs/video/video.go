// Package video реализует постановку задачи генерации видео по маршруту.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
)

type Submitter interface {
	SubmitVideo(ctx context.Context, userID string, req models.VideoRequest) (models.JobHandle, error)
}

type Handler struct {
	log       *slog.Logger
	submitter Submitter
	validate  *validator.Validate
}

func New(log *slog.Logger, submitter Submitter) *Handler {
	return &Handler{
		log:       log,
		submitter: submitter,
		validate:  validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Сгенерировать видео
// @Description Бесплатно в пределах квоты тарифа, иначе требуется payment_proof оплаченной сессии.
// @Tags Jobs
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.VideoRequest true "Маршрут, фото и качество"
// @Success 202 {object} response.OKResponse{data=models.JobHandle}
// @Failure 402 {object} response.ErrorResponse{data=response.PaymentDetails} "Требуется оплата"
// @Failure 403 {object} response.ErrorResponse "Качество недоступно на тарифе"
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Оплата уже использована или маршрут не готов"
// @Failure 422 {object} response.ErrorResponse
// @Router /videos [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.video"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	principal, ok := middlewarectx.PrincipalFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	var req models.VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}
	if req.Quality == "" {
		req.Quality = models.QualityStandard
	}

	handle, err := h.submitter.SubmitVideo(r.Context(), principal.UserID, req)
	if status, resp, denied := response.Denied(err); denied {
		log.Info("video denied", slog.String("user_id", principal.UserID), slog.String("code", resp.Code))
		w.WriteHeader(status)
		render.JSON(w, r, resp)
		return
	}
	switch {
	case errors.Is(err, jobs.ErrItineraryNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("itinerary not found"))
		return
	case errors.Is(err, jobs.ErrPhotoNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("photo not found"))
		return
	case errors.Is(err, jobs.ErrItineraryNotReady):
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("itinerary is not completed yet"))
		return
	case err != nil:
		log.Error("failed to submit video", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to submit video"))
		return
	}

	log.Info("video job accepted",
		slog.String("job_id", handle.JobID),
		slog.Bool("is_paid", handle.IsPaid),
	)
	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, response.OKWithData(handle))
}
