// Package itinerary реализует постановку задачи генерации маршрута.
package itinerary

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
)

type Submitter interface {
	SubmitItinerary(ctx context.Context, userID string, req models.ItineraryRequest) (models.JobHandle, error)
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
// @Summary Сгенерировать маршрут
// @Description Проверяет лимит тарифа и ставит задачу в очередь. Результат забирается через /jobs/{id}.
// @Tags Jobs
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.ItineraryRequest true "Параметры поездки"
// @Success 202 {object} response.OKResponse{data=models.JobHandle}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse "Лимит тарифа исчерпан"
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /itineraries [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.itinerary"
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

	var req models.ItineraryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Info("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	handle, err := h.submitter.SubmitItinerary(r.Context(), principal.UserID, req)
	if status, resp, denied := response.Denied(err); denied {
		log.Info("itinerary denied", slog.String("user_id", principal.UserID), slog.String("code", resp.Code))
		w.WriteHeader(status)
		render.JSON(w, r, resp)
		return
	}
	if err != nil {
		log.Error("failed to submit itinerary", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to submit itinerary"))
		return
	}

	log.Info("itinerary job accepted", slog.String("job_id", handle.JobID))
	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, response.OKWithData(handle))
}
