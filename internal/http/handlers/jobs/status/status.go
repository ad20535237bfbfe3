// Package status отдает состояние задачи генерации ее владельцу.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
)

type Reader interface {
	Status(ctx context.Context, userID, jobID string) (models.JobStatusView, error)
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
// @Summary Статус задачи
// @Description Прогресс для незавершенных задач, результат для завершенных, ошибка для упавших.
// @Tags Jobs
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID задачи"
// @Success 200 {object} response.OKResponse{data=models.JobStatusView}
// @Failure 404 {object} response.ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.jobs.status"
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

	jobID := chi.URLParam(r, "id")
	view, err := h.reader.Status(r.Context(), principal.UserID, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("job not found"))
		return
	}
	if err != nil {
		log.Error("failed to read job status", slog.String("job_id", jobID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to read job status"))
		return
	}

	render.JSON(w, r, response.OKWithData(view))
}
