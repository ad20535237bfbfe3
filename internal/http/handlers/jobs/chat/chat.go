// Package chat реализует постановку сообщения в чат по маршруту.
package chat

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
	SubmitChat(ctx context.Context, userID string, req models.ChatRequest) (models.JobHandle, error)
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
// @Summary Сообщение ассистенту по маршруту
// @Tags Jobs
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.ChatRequest true "Сообщение"
// @Success 202 {object} response.OKResponse{data=models.JobHandle}
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /chat [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.chat"
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

	var req models.ChatRequest
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

	handle, err := h.submitter.SubmitChat(r.Context(), principal.UserID, req)
	switch {
	case errors.Is(err, jobs.ErrItineraryNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("itinerary not found"))
		return
	case errors.Is(err, jobs.ErrItineraryNotReady):
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("itinerary is not completed yet"))
		return
	case err != nil:
		log.Error("failed to submit chat message", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to submit chat message"))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, response.OKWithData(handle))
}
