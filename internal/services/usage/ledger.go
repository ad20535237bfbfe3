// Package usage ведет учет потребления: события завершенных задач,
// счетчики периода и сводку для пользователя. Ошибки учета никогда не
// возвращаются вызывающему, они только логируются.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
)

// Store хранилище учета.
type Store interface {
	RecordUsage(ctx context.Context, ev models.UsageEvent) (bool, error)
	ReleaseQuota(ctx context.Context, userID string, periodStart time.Time, kind models.QuotaKind) error
	GetUsageCounters(ctx context.Context, userID string, periodStart time.Time) (models.UsageCounters, error)
	GetQuotaUsed(ctx context.Context, userID string, periodStart time.Time, kind models.QuotaKind) (int, error)
}

// PlanResolver источник действующего тарифа.
type PlanResolver interface {
	EffectivePlan(ctx context.Context, userID string) (models.EffectivePlan, error)
	VideoPrice() (decimal.Decimal, string)
}

type Ledger struct {
	store Store
	plans PlanResolver
	log   *slog.Logger
	now   func() time.Time
}

func New(store Store, plans PlanResolver, log *slog.Logger) *Ledger {
	return &Ledger{store: store, plans: plans, log: log, now: time.Now}
}

// OnTerminal учитывает переход задачи в конечное состояние.
// Завершенная задача записывается в учет один раз; упавший маршрут
// освобождает слот квоты, бесплатный слот видео не возвращается.
func (l *Ledger) OnTerminal(ctx context.Context, job models.GenerationJob) {
	log := l.log.With(
		slog.String("user_id", job.UserID),
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
	)

	switch job.Status {
	case models.JobCompleted:
		l.record(ctx, log, job)
	case models.JobFailed:
		if job.Kind != models.JobItinerary {
			return
		}
		if err := l.store.ReleaseQuota(ctx, job.UserID, job.PeriodStart, models.QuotaItinerary); err != nil {
			log.Warn("failed to release itinerary quota",
				slog.String("counter", string(models.QuotaItinerary)),
				slog.Time("period_start", job.PeriodStart),
				sl.Err(err))
		}
	}
}

func (l *Ledger) record(ctx context.Context, log *slog.Logger, job models.GenerationJob) {
	ev := models.UsageEvent{
		JobID:         job.ID,
		UserID:        job.UserID,
		Kind:          job.Kind,
		Period:        jobPeriod(job),
		IsFreeQuota:   job.IsFreeQuota,
		IsPaid:        job.IsPaid,
		// Первое событие периода любого типа создает строку учета,
		// поэтому остаток бесплатных видео засевается всегда.
		FreeAllowance: l.freeAllowance(ctx, log, job.UserID),
	}

	recorded, err := l.store.RecordUsage(ctx, ev)
	if err != nil {
		log.Warn("failed to record usage",
			slog.Time("period_start", ev.Period.Start),
			slog.Bool("is_free_quota", ev.IsFreeQuota),
			slog.Bool("is_paid", ev.IsPaid),
			sl.Err(err))
		return
	}
	if !recorded {
		log.Debug("usage already recorded")
		return
	}
	log.Info("usage recorded", slog.Bool("is_free_quota", ev.IsFreeQuota))
}

func (l *Ledger) freeAllowance(ctx context.Context, log *slog.Logger, userID string) int {
	plan, err := l.plans.EffectivePlan(ctx, userID)
	if err != nil {
		log.Warn("failed to resolve plan for free allowance", sl.Err(err))
		return 0
	}
	return plan.Limits().FreeVideosPerMonth
}

// jobPeriod период, в котором задача была допущена. Конец окна
// подписки в задаче не хранится, поэтому берется месяц от начала.
func jobPeriod(job models.GenerationJob) models.BillingPeriod {
	start := job.PeriodStart.UTC()
	return models.BillingPeriod{Start: start, End: start.AddDate(0, 1, 0)}
}

// Summary сводка использования за текущий период.
func (l *Ledger) Summary(ctx context.Context, userID string) (models.UsageSummary, error) {
	const op = "usage.Summary"

	plan, err := l.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	limits := plan.Limits()

	itineraries, err := l.store.GetQuotaUsed(ctx, userID, plan.Period.Start, models.QuotaItinerary)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	freeVideos, err := l.store.GetQuotaUsed(ctx, userID, plan.Period.Start, models.QuotaFreeVideo)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	counters, err := l.store.GetUsageCounters(ctx, userID, plan.Period.Start)
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	price, currency := l.plans.VideoPrice()
	return models.UsageSummary{
		Plan:        plan.Tier,
		PlanName:    limits.Name,
		Source:      plan.Source,
		Period:      plan.Period,
		Itineraries: quotaUsage(itineraries, limits.ItinerariesPerMonth),
		FreeVideos:  quotaUsage(freeVideos, limits.FreeVideosPerMonth),
		Counters:    counters,
		VideoPrice:  price,
		Currency:    currency,
		Quality:     limits.VideoQualityCeiling,
		Features:    limits.Features,
		GeneratedAt: l.now().UTC(),
	}, nil
}

func quotaUsage(used, limit int) models.QuotaUsage {
	if limit == models.Unlimited {
		return models.QuotaUsage{Used: used, Limit: limit, Remaining: models.Unlimited, Unlimited: true}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return models.QuotaUsage{Used: used, Limit: limit, Remaining: remaining}
}
