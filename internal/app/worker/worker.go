// Package worker запускает исполнителей задач генерации поверх очередей RabbitMQ.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/travel-planner/internal/cache"
	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/metrics"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
	"github.com/magabrotheeeer/travel-planner/internal/services/usage"
	"github.com/magabrotheeeer/travel-planner/internal/storage/repository"
)

type App struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	db          *repository.Storage
	cache       *cache.Cache
	executor    *jobs.Executor
	concurrency int
	metricsSrv  *http.Server
	logger      *slog.Logger
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(ctx, db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	price, err := decimal.NewFromString(cfg.VideoPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid video price %q: %w", cfg.VideoPrice, err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		_ = db.DB.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = db.DB.Close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	queues := rabbitmq.GetGenerationQueues(cfg.Executor.RetryDelays())
	ch, err := rabbitmq.SetupChannel(conn, queues, cfg.Concurrency)
	if err != nil {
		closeResources(nil, conn, logger)
		_ = db.DB.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	evaluator := entitlement.New(db, db, cacheRedis, logger, cfg.PlanTTL, price, cfg.Currency)
	executor := jobs.NewExecutor(
		db,
		gateway.New(cfg.GenerationService, logger),
		rabbitmq.NewPublisher(ch),
		usage.New(db, evaluator, logger),
		reconciliation.New(db, logger, cfg.MatchWindow, cfg.BatchSize),
		metrics.NewJobs(prometheus.DefaultRegisterer),
		logger,
		cfg.Executor,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &App{
		conn:        conn,
		ch:          ch,
		db:          db,
		cache:       cacheRedis,
		executor:    executor,
		concurrency: cfg.Concurrency,
		metricsSrv:  &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger:      logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run подписывается на очереди всех типов задач и ждет отмены контекста.
func (a *App) Run(ctx context.Context) error {
	for _, kind := range rabbitmq.GenerationKinds {
		queue := rabbitmq.QueueName(kind)
		if err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, queue, a.concurrency, a.executor.Handle); err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", queue), sl.Err(err))
			return err
		}
		a.logger.Info("consumer started", slog.String("queue", queue))
	}

	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	<-ctx.Done()
	a.logger.Info("generation worker shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to stop metrics server", sl.Err(err))
	}

	closeResources(a.ch, a.conn, a.logger)
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}
