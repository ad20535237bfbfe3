package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/travel-planner/internal/cache"
	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/lib/jwt"
	"github.com/magabrotheeeer/travel-planner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/metrics"
	"github.com/magabrotheeeer/travel-planner/internal/migrations"
	"github.com/magabrotheeeer/travel-planner/internal/photostore"
	"github.com/magabrotheeeer/travel-planner/internal/services/auth"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
	"github.com/magabrotheeeer/travel-planner/internal/services/itinerary"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
	"github.com/magabrotheeeer/travel-planner/internal/services/payment"
	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
	"github.com/magabrotheeeer/travel-planner/internal/services/usage"
	"github.com/magabrotheeeer/travel-planner/internal/storage/repository"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	price, err := decimal.NewFromString(cfg.VideoPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid video price %q: %w", cfg.VideoPrice, err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetGenerationQueues(cfg.Executor.RetryDelays()), 0)
	if err != nil {
		_ = conn.Close()
		_ = db.DB.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	photos, err := photostore.New(ctx, cfg.PhotoStorage)
	if err != nil {
		logger.Warn("photo archive disabled", sl.Err(err))
		photos = &photostore.Store{}
	}

	gw := gateway.New(cfg.GenerationService, logger)
	evaluator := entitlement.New(db, db, cacheRedis, logger, cfg.PlanTTL, price, cfg.Currency)
	payments, err := payment.New(payment.NewCheckoutClient(cfg.Stripe.SecretKey), db, evaluator, cfg.Stripe, cfg.Billing, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		_ = db.DB.Close()
		return nil, err
	}
	jobMetrics := metrics.NewJobs(prometheus.DefaultRegisterer)

	services := Services{
		Auth:         auth.NewService(db, jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL), logger),
		Dispatcher:   jobs.NewDispatcher(db, evaluator, payments, rabbitmq.NewPublisher(ch), jobMetrics, logger),
		Itineraries:  itinerary.New(db, gw, photos, logger),
		Entitlements: evaluator,
		Usage:        usage.New(db, evaluator, logger),
		Payments:     payments,
		Bridge:       reconciliation.New(db, logger, cfg.MatchWindow, cfg.BatchSize),
		Storage:      db,
		Gateway:      gw,
		Limiter:      middlewarectx.NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, services)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		cache:  cacheRedis,
		conn:   conn,
		ch:     ch,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
