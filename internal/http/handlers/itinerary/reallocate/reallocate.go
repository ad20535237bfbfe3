// Package reallocate перераспределяет бюджет маршрута по выбранным категориям.
package reallocate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/itinerary"
)

type Reallocator interface {
	ReallocateBudget(ctx context.Context, userID, jobID string, categories []string) (json.RawMessage, error)
}

type Handler struct {
	log         *slog.Logger
	reallocator Reallocator
	validate    *validator.Validate
}

func New(log *slog.Logger, reallocator Reallocator) *Handler {
	return &Handler{
		log:         log,
		reallocator: reallocator,
		validate:    validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Перераспределить бюджет маршрута
// @Tags Itineraries
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID задачи маршрута"
// @Param request body models.ReallocateBudgetRequest true "Категории"
// @Success 200 {object} response.OKResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /itineraries/{id}/reallocate-budget [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.itinerary.reallocate"
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

	var req models.ReallocateBudgetRequest
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

	data, err := h.reallocator.ReallocateBudget(r.Context(), principal.UserID, chi.URLParam(r, "id"), req.SelectedCategories)
	var remote *itinerary.RemoteError
	switch {
	case errors.Is(err, itinerary.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("itinerary not found"))
		return
	case errors.Is(err, itinerary.ErrNotReady):
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("itinerary is not completed yet"))
		return
	case errors.As(err, &remote):
		log.Warn("generation service rejected reallocation", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error(remote.Message))
		return
	case err != nil:
		log.Error("failed to reallocate budget", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to reallocate budget"))
		return
	}

	render.JSON(w, r, response.OKWithData(data))
}
