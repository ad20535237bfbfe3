// Package checkout создает платежную сессию за одно видео.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
)

type CheckoutCreator interface {
	CreateVideoCheckout(ctx context.Context, userID string, quality models.VideoQuality) (models.CheckoutSession, error)
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
// @Summary Оплатить видео
// @Description Возвращает ссылку на оплату. ID сессии затем передается как payment_proof.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body models.VideoCheckoutRequest false "Качество видео"
// @Success 200 {object} response.OKResponse{data=models.CheckoutSession}
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /payments/checkout/video [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkout"
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

	var req models.VideoCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
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
	if req.Quality == "" {
		req.Quality = models.QualityStandard
	}

	sess, err := h.creator.CreateVideoCheckout(r.Context(), principal.UserID, req.Quality)
	if err != nil {
		log.Error("failed to create checkout session", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("failed to create checkout session"))
		return
	}

	log.Info("checkout session created", slog.String("session_id", sess.SessionID))
	render.JSON(w, r, response.OKWithData(sess))
}
