// Package read отдает актуальную версию маршрута из сервиса генерации.
package read

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/services/itinerary"
)

type Reader interface {
	Get(ctx context.Context, userID, jobID string) (json.RawMessage, error)
}

type Handler struct {
	log    *slog.Logger
	reader Reader
}

func New(log *slog.Logger, reader Reader) *Handler {
	return &Handler{
		log:    log,
		reader: reader,
	}
}

// ServeHTTP godoc
// @Summary Получить маршрут
// @Description id это ID завершенной задачи генерации маршрута.
// @Tags Itineraries
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID задачи маршрута"
// @Success 200 {object} response.OKResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /itineraries/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.itinerary.read"
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

	data, err := h.reader.Get(r.Context(), principal.UserID, chi.URLParam(r, "id"))
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
		log.Warn("generation service rejected request", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error(remote.Message))
		return
	case err != nil:
		log.Error("failed to load itinerary", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to load itinerary"))
		return
	}

	render.JSON(w, r, response.OKWithData(data))
}
