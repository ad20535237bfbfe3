package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
)

type Redispatcher interface {
	Redispatch(ctx context.Context, staleAfter, stuckAfter time.Duration, limit int) (int, error)
}

type Backfiller interface {
	Backfill(ctx context.Context) (reconciliation.BackfillReport, error)
}

// Tasks периодические сверки: повторная отправка зависших задач и
// связывание платных задач с покупками.
type Tasks struct {
	redispatcher Redispatcher
	backfiller   Backfiller
	cfg          config.Reconciler
	log          *slog.Logger
}

func NewTasks(redispatcher Redispatcher, backfiller Backfiller, cfg config.Reconciler, log *slog.Logger) *Tasks {
	return &Tasks{
		redispatcher: redispatcher,
		backfiller:   backfiller,
		cfg:          cfg,
		log:          log,
	}
}

// Register добавляет задачи в планировщик. ctx передается в каждый запуск.
func (t *Tasks) Register(ctx context.Context, c *cron.Cron) error {
	if _, err := c.AddFunc(t.cfg.RedispatchSchedule, func() { t.RunRedispatch(ctx) }); err != nil {
		return fmt.Errorf("redispatch schedule %q: %w", t.cfg.RedispatchSchedule, err)
	}
	if _, err := c.AddFunc(t.cfg.BackfillSchedule, func() { t.RunBackfill(ctx) }); err != nil {
		return fmt.Errorf("backfill schedule %q: %w", t.cfg.BackfillSchedule, err)
	}
	return nil
}

func (t *Tasks) RunRedispatch(ctx context.Context) {
	sent, err := t.redispatcher.Redispatch(ctx, t.cfg.StaleAfter, t.cfg.StuckAfter, t.cfg.BatchSize)
	if err != nil {
		t.log.Error("redispatch failed", sl.Err(err))
		return
	}
	if sent > 0 {
		t.log.Info("stale jobs redispatched", slog.Int("count", sent))
	}
}

func (t *Tasks) RunBackfill(ctx context.Context) {
	report, err := t.backfiller.Backfill(ctx)
	if err != nil {
		t.log.Error("backfill failed", sl.Err(err))
		return
	}
	t.log.Info("backfill finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("linked", report.Linked),
		slog.Int("ambiguous", report.Ambiguous),
		slog.Int("unmatched", report.Unmatched),
	)
}
