// Package read реализует HTTP-обработчик для получения подписки текущего пользователя.
//
// Handler берет пользователя из контекста запроса, читает его подписку и
// возвращает ее вместе с действующим тарифом. Пользователь без подписки
// получает basic и пустое поле subscription.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

// Handler обрабатывает запросы на получение подписки.
type Handler struct {
	log   *slog.Logger // Логгер для записи информации и ошибок
	subs  Subscriptions
	plans PlanResolver
}

// Subscriptions источник записей о подписках.
type Subscriptions interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// PlanResolver вычисляет действующий тариф пользователя.
type PlanResolver interface {
	EffectivePlan(ctx context.Context, userID string) (models.EffectivePlan, error)
}

// New создает новый Handler.
func New(log *slog.Logger, subs Subscriptions, plans PlanResolver) *Handler {
	return &Handler{
		log:   log,
		subs:  subs,
		plans: plans,
	}
}

// ServeHTTP godoc
// @Summary Моя подписка
// @Tags Subscription
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /subscription [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.read"

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

	sub, err := h.subs.GetSubscription(r.Context(), principal.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("failed to read subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read subscription"))
		return
	}

	plan, err := h.plans.EffectivePlan(r.Context(), principal.UserID)
	if err != nil {
		log.Error("failed to resolve plan", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read subscription"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"plan":         plan.Tier,
		"source":       plan.Source,
		"subscription": sub,
	}))
}
