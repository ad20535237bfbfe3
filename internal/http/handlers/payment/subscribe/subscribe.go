// Package subscribe создает платежную сессию на подписку.
package subscribe

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
	"github.com/magabrotheeeer/travel-planner/internal/services/payment"
)

type CheckoutCreator interface {
	CreateSubscriptionCheckout(ctx context.Context, userID string, tier models.PlanTier) (models.CheckoutSession, error)
}

type Handler struct {
	log      *slog.Logger
	creator  CheckoutCreator
	validate *validator.Validate
}

func New(log *slog.Logger, creator CheckoutCreator) *Handler {
	return &Handler{
		log:      log,
		creator:  creator,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформить подписку
// @Tags Payments
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.SubscriptionCheckoutRequest true "Тариф"
// @Success 200 {object} response.OKResponse{data=models.CheckoutSession}
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /payments/checkout/subscription [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.subscribe"
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

	var req models.SubscriptionCheckoutRequest
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

	sess, err := h.creator.CreateSubscriptionCheckout(r.Context(), principal.UserID, req.Tier)
	if errors.Is(err, payment.ErrUnknownPlan) {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("plan is not available for purchase"))
		return
	}
	if err != nil {
		log.Error("failed to create subscription checkout", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("failed to create checkout session"))
		return
	}

	log.Info("subscription checkout created", slog.String("tier", string(req.Tier)))
	render.JSON(w, r, response.OKWithData(sess))
}
