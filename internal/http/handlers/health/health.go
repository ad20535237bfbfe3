// Package health отдает состояние сервиса и его зависимостей.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type GatewayChecker interface {
	Health(ctx context.Context) gateway.Envelope
}

type Handler struct {
	log     *slog.Logger
	db      Pinger
	gateway GatewayChecker
}

func New(log *slog.Logger, db Pinger, gw GatewayChecker) *Handler {
	return &Handler{
		log:     log,
		db:      db,
		gateway: gw,
	}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Description База данных обязательна. Недоступный сервис генерации переводит статус в degraded.
// @Tags Health
// @Produce  json
// @Success 200 {object} response.OKResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	log := h.log.With(slog.String("op", op))

	if err := h.db.Ping(r.Context()); err != nil {
		log.Error("database is unreachable", sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("database is unreachable"))
		return
	}

	status, ai := "ok", "ok"
	if env := h.gateway.Health(r.Context()); !env.Success {
		log.Warn("generation service is unreachable", slog.String("error", env.Error))
		status, ai = "degraded", "unreachable"
	}

	render.JSON(w, r, response.OKWithData(map[string]string{
		"status":             status,
		"database":           "ok",
		"generation_service": ai,
	}))
}
