// Package reconcile запускает сверку платных задач с покупками вне расписания.
package reconcile

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
)

type Backfiller interface {
	Backfill(ctx context.Context) (reconciliation.BackfillReport, error)
}

type Handler struct {
	log        *slog.Logger
	backfiller Backfiller
}

func New(log *slog.Logger, backfiller Backfiller) *Handler {
	return &Handler{
		log:        log,
		backfiller: backfiller,
	}
}

// ServeHTTP godoc
// @Summary Сверка платежей (администратор)
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse{data=reconciliation.BackfillReport}
// @Failure 403 {object} response.ErrorResponse
// @Router /admin/reconcile [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.reconcile"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	report, err := h.backfiller.Backfill(r.Context())
	if err != nil {
		log.Error("backfill failed", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("reconciliation failed"))
		return
	}

	log.Info("manual backfill finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("linked", report.Linked),
		slog.Int("ambiguous", report.Ambiguous),
	)
	render.JSON(w, r, response.OKWithData(report))
}
