// Package reconciler содержит процесс фоновых сверок по расписанию.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/travel-planner/internal/cache"
	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/metrics"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
	"github.com/magabrotheeeer/travel-planner/internal/services/jobs"
	"github.com/magabrotheeeer/travel-planner/internal/services/payment"
	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
	"github.com/magabrotheeeer/travel-planner/internal/storage/repository"
)

// App представляет приложение сверок.
type App struct {
	cron   *cron.Cron
	tasks  *Tasks
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
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

// New создает новый экземпляр приложения сверок.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	price, err := decimal.NewFromString(cfg.VideoPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid video price %q: %w", cfg.VideoPrice, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetGenerationQueues(cfg.Executor.RetryDelays()), 0)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	evaluator := entitlement.New(db, db, cacheRedis, logger, cfg.PlanTTL, price, cfg.Currency)
	payments, err := payment.New(payment.NewCheckoutClient(cfg.Stripe.SecretKey), db, evaluator, cfg.Stripe, cfg.Billing, logger)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}
	dispatcher := jobs.NewDispatcher(db, evaluator, payments, rabbitmq.NewPublisher(ch),
		metrics.NewJobs(prometheus.DefaultRegisterer), logger)
	bridge := reconciliation.New(db, logger, cfg.MatchWindow, cfg.BatchSize)

	return &App{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		tasks:  NewTasks(dispatcher, bridge, cfg.Reconciler, logger),
		db:     db,
		cache:  cacheRedis,
		conn:   conn,
		ch:     ch,
		logger: logger,
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

// Run запускает расписание и ждет отмены контекста. Первая сверка
// выполняется сразу, не дожидаясь расписания.
func (a *App) Run(ctx context.Context) error {
	if err := a.tasks.Register(ctx, a.cron); err != nil {
		return err
	}
	a.tasks.RunRedispatch(ctx)
	a.tasks.RunBackfill(ctx)
	a.cron.Start()

	<-ctx.Done()

	a.logger.Info("shutting down reconciler")
	<-a.cron.Stop().Done()

	closeResources(a.ch, a.conn, a.logger)
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}
