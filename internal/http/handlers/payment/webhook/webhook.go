// Package webhook принимает события платежного провайдера.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/services/payment"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadSize  = 65536
)

type EventHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Handler struct {
	log     *slog.Logger
	handler EventHandler
}

func New(log *slog.Logger, handler EventHandler) *Handler {
	return &Handler{
		log:     log,
		handler: handler,
	}
}

// ServeHTTP godoc
// @Summary Вебхук Stripe
// @Description Подпись проверяется по заголовку Stripe-Signature. Повторные доставки игнорируются.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Success 200 {object} response.OKResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		log.Warn("failed to read webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid payload"))
		return
	}

	err = h.handler.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if errors.Is(err, payment.ErrInvalidSignature) {
		log.Warn("webhook signature rejected")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}
	if err != nil {
		log.Error("failed to process webhook", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process webhook"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]bool{"received": true}))
}
