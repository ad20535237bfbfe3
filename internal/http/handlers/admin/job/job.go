// Package job отдает администратору полную запись любой задачи.
package job

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
)

type Reader interface {
	Job(ctx context.Context, jobID string) (*models.GenerationJob, error)
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
// @Summary Задача по ID (администратор)
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Param id path string true "ID задачи"
// @Success 200 {object} response.OKResponse{data=models.GenerationJob}
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/jobs/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.job"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	jobID := chi.URLParam(r, "id")
	job, err := h.reader.Job(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("job not found"))
		return
	}
	if err != nil {
		log.Error("failed to load job", slog.String("job_id", jobID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to load job"))
		return
	}

	render.JSON(w, r, response.OKWithData(job))
}
