// Package summary отдает сводку использования тарифа за текущий период.
package summary

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
)

type Reporter interface {
	Summary(ctx context.Context, userID string) (models.UsageSummary, error)
}

type Handler struct {
	log      *slog.Logger
	reporter Reporter
}

func New(log *slog.Logger, reporter Reporter) *Handler {
	return &Handler{
		log:      log,
		reporter: reporter,
	}
}

// ServeHTTP godoc
// @Summary Использование тарифа
// @Description Квоты, счетчики и цена разового видео за текущий расчетный период.
// @Tags Usage
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse{data=models.UsageSummary}
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /usage [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.usage.summary"
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

	summary, err := h.reporter.Summary(r.Context(), principal.UserID)
	if err != nil {
		log.Error("failed to build usage summary", slog.String("user_id", principal.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to load usage"))
		return
	}

	render.JSON(w, r, response.OKWithData(summary))
}
