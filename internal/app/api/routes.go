// Package api собирает HTTP API: маршруты, зависимости и жизненный цикл сервера.
package api

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	// Регистрация swagger-спецификации.
	_ "github.com/magabrotheeeer/travel-planner/docs"
	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/admin/job"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/admin/reconcile"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/admin/role"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/health"
	itineraryread "github.com/magabrotheeeer/travel-planner/internal/http/handlers/itinerary/read"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/itinerary/reallocate"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/jobs/chat"
	jobitinerary "github.com/magabrotheeeer/travel-planner/internal/http/handlers/jobs/itinerary"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/jobs/status"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/jobs/video"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/payment/checkout"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/payment/subscribe"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/payment/webhook"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/photo/upload"
	subscriptionread "github.com/magabrotheeeer/travel-planner/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/travel-planner/internal/http/handlers/usage/summary"
	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/services/auth"
	"github.com/magabrotheeeer/travel-planner/internal/services/authz"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
	"github.com/magabrotheeeer/travel-planner/internal/services/itinerary"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
	"github.com/magabrotheeeer/travel-planner/internal/services/payment"
	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
	"github.com/magabrotheeeer/travel-planner/internal/services/usage"
	"github.com/magabrotheeeer/travel-planner/internal/storage/repository"
)

// Services зависимости обработчиков.
type Services struct {
	Auth         *auth.Service
	Dispatcher   *jobs.Dispatcher
	Itineraries  *itinerary.Service
	Entitlements *entitlement.Evaluator
	Usage        *usage.Ledger
	Payments     *payment.Service
	Bridge       *reconciliation.Bridge
	Storage      *repository.Storage
	Gateway      *gateway.Client
	Limiter      *middlewarectx.Limiter
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Get("/health", health.New(logger, s.Storage, s.Gateway).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/register", register.New(logger, s.Auth).ServeHTTP)
		r.Post("/login", login.New(logger, s.Auth).ServeHTTP)

		// Подпись проверяется внутри, JWT не нужен
		r.Post("/payments/webhook", webhook.New(logger, s.Payments).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Auth, logger))
			r.Use(middlewarectx.RateLimitMiddleware(s.Limiter, logger))

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireCapability(authz.GenerateContent, logger))
				r.Post("/itineraries", jobitinerary.New(logger, s.Dispatcher).ServeHTTP)
				r.Get("/itineraries/{id}", itineraryread.New(logger, s.Itineraries).ServeHTTP)
				r.Post("/itineraries/{id}/reallocate-budget", reallocate.New(logger, s.Itineraries).ServeHTTP)
				r.Post("/videos", video.New(logger, s.Dispatcher).ServeHTTP)
				r.Post("/chat", chat.New(logger, s.Dispatcher).ServeHTTP)
				r.Get("/jobs/{id}", status.New(logger, s.Dispatcher).ServeHTTP)
				r.Post("/photos", upload.New(logger, s.Itineraries).ServeHTTP)
			})

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireCapability(authz.ViewOwnUsage, logger))
				r.Get("/usage", summary.New(logger, s.Usage).ServeHTTP)
				r.Get("/subscription", subscriptionread.New(logger, s.Storage, s.Entitlements).ServeHTTP)
			})

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireCapability(authz.PurchaseVideo, logger))
				r.Post("/payments/checkout/video", checkout.New(logger, s.Payments).ServeHTTP)
				r.Post("/payments/checkout/subscription", subscribe.New(logger, s.Payments).ServeHTTP)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(middlewarectx.RequireCapability(authz.ViewAnyJob, logger)).
					Get("/jobs/{id}", job.New(logger, s.Dispatcher).ServeHTTP)
				r.With(middlewarectx.RequireCapability(authz.RunReconciliation, logger)).
					Post("/reconcile", reconcile.New(logger, s.Bridge).ServeHTTP)
				r.With(middlewarectx.RequireCapability(authz.ManageRoles, logger)).
					Put("/users/{id}/role", role.New(logger, s.Auth).ServeHTTP)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
