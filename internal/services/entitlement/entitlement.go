// Package entitlement решает, разрешено ли пользователю действие по его
// действующему тарифу и требуется ли для этого оплата.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/travel-planner/internal/lib/period"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

// SubscriptionReader источник подписок.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// QuotaReader источник занятых слотов квоты.
type QuotaReader interface {
	GetQuotaUsed(ctx context.Context, userID string, periodStart time.Time, kind models.QuotaKind) (int, error)
}

// Cache кеш действующих тарифов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Decision результат проверки. Admission передается в хранилище вместе
// с созданием задачи, там слот квоты занимается атомарно.
type Decision struct {
	Plan            models.EffectivePlan
	RequiresPayment bool
	UseFreeQuota    bool
	Admission       *models.Admission
	Used            int
	Limit           int
	Message         string
}

type Evaluator struct {
	subs     SubscriptionReader
	quota    QuotaReader
	cache    Cache
	log      *slog.Logger
	planTTL  time.Duration
	price    decimal.Decimal
	currency string
	now      func() time.Time
}

// New создаёт Evaluator. price и currency цена разового видео.
func New(subs SubscriptionReader, quota QuotaReader, cache Cache, log *slog.Logger,
	planTTL time.Duration, price decimal.Decimal, currency string) *Evaluator {
	return &Evaluator{
		subs:     subs,
		quota:    quota,
		cache:    cache,
		log:      log,
		planTTL:  planTTL,
		price:    price,
		currency: currency,
		now:      time.Now,
	}
}

// VideoPrice цена разового видео.
func (e *Evaluator) VideoPrice() (decimal.Decimal, string) {
	return e.price, e.currency
}

func planCacheKey(userID string) string {
	return "effective_plan:" + userID
}

// EffectivePlan вычисляет действующий тариф: активная подписка дает свой
// тариф и свое окно, иначе basic на календарный месяц.
func (e *Evaluator) EffectivePlan(ctx context.Context, userID string) (models.EffectivePlan, error) {
	now := e.now().UTC()
	key := planCacheKey(userID)

	var cached models.EffectivePlan
	found, err := e.cache.Get(ctx, key, &cached)
	if err != nil {
		e.log.Warn("failed to read plan from cache", slog.String("key", key), sl.Err(err))
	}
	if found && cached.Period.Contains(now) {
		return cached, nil
	}

	plan := models.EffectivePlan{UserID: userID, Tier: models.PlanBasic, Source: models.PlanFromDefault}
	sub, err := e.subs.GetSubscription(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return models.EffectivePlan{}, fmt.Errorf("entitlement.EffectivePlan: %w", err)
	case sub.Status == models.SubscriptionActive:
		plan.Tier = sub.Tier
		plan.Source = models.PlanFromSubscription
		plan.Period.Start, plan.Period.End = period.Window(now, sub.PeriodStart, sub.PeriodEnd)
	}
	if plan.Source == models.PlanFromDefault {
		plan.Period.Start, plan.Period.End = period.CalendarMonth(now)
	}
	if _, ok := models.Plans[plan.Tier]; !ok {
		plan.Tier = models.PlanBasic
	}

	if err := e.cache.Set(ctx, key, plan, e.planTTL); err != nil {
		e.log.Warn("failed to cache plan", slog.String("key", key), sl.Err(err))
	}
	return plan, nil
}

// InvalidatePlan сбрасывает кеш тарифа после изменения подписки.
func (e *Evaluator) InvalidatePlan(ctx context.Context, userID string) {
	if err := e.cache.Invalidate(ctx, planCacheKey(userID)); err != nil {
		e.log.Warn("failed to invalidate plan cache", slog.String("user_id", userID), sl.Err(err))
	}
}

// CheckItinerary проверяет лимит маршрутов за период.
func (e *Evaluator) CheckItinerary(ctx context.Context, plan models.EffectivePlan) (Decision, error) {
	limits := plan.Limits()
	d := Decision{Plan: plan, Limit: limits.ItinerariesPerMonth}
	if limits.UnlimitedItineraries() {
		d.Admission = &models.Admission{Kind: models.QuotaItinerary, Limit: models.Unlimited, Period: plan.Period}
		d.Message = "OK"
		return d, nil
	}

	used, err := e.quota.GetQuotaUsed(ctx, plan.UserID, plan.Period.Start, models.QuotaItinerary)
	if err != nil {
		return Decision{}, fmt.Errorf("entitlement.CheckItinerary: %w", err)
	}
	d.Used = used
	if used >= limits.ItinerariesPerMonth {
		return d, LimitReached(used, limits.ItinerariesPerMonth)
	}
	d.Admission = &models.Admission{Kind: models.QuotaItinerary, Limit: limits.ItinerariesPerMonth, Period: plan.Period}
	d.Message = "OK"
	return d, nil
}

// LimitReached отказ по исчерпанному лимиту маршрутов.
func LimitReached(used, limit int) *Error {
	return &Error{
		Reason:  ReasonLimitReached,
		Message: fmt.Sprintf("Monthly itinerary limit reached (%d/%d). Upgrade to Premium for unlimited itineraries.", used, limit),
		Used:    used,
		Limit:   limit,
	}
}

// CheckVideo проверяет качество и бесплатную квоту видео. Качество выше
// потолка тарифа отклоняется независимо от оплаты. Без бесплатной квоты
// решение требует оплаты, но не запрещает генерацию.
func (e *Evaluator) CheckVideo(ctx context.Context, plan models.EffectivePlan, quality models.VideoQuality) (Decision, error) {
	limits := plan.Limits()
	if quality == "" {
		quality = models.QualityStandard
	}
	if quality.Exceeds(limits.VideoQualityCeiling) {
		return Decision{Plan: plan}, &Error{
			Reason:  ReasonUpgradeRequired,
			Message: "High quality videos are only available for Pro plan subscribers",
		}
	}

	d := Decision{Plan: plan, Limit: limits.FreeVideosPerMonth}
	if limits.FreeVideosPerMonth > 0 {
		used, err := e.quota.GetQuotaUsed(ctx, plan.UserID, plan.Period.Start, models.QuotaFreeVideo)
		if err != nil {
			return Decision{}, fmt.Errorf("entitlement.CheckVideo: %w", err)
		}
		d.Used = used
		if used < limits.FreeVideosPerMonth {
			d.UseFreeQuota = true
			d.Admission = &models.Admission{Kind: models.QuotaFreeVideo, Limit: limits.FreeVideosPerMonth, Period: plan.Period}
			d.Message = fmt.Sprintf("Using free video quota (%d/%d)", used, limits.FreeVideosPerMonth)
			return d, nil
		}
	}

	d.RequiresPayment = true
	d.Message = e.paymentMessage(plan.Tier, d.Used, d.Limit)
	return d, nil
}

// PaymentRequired отказ с ценой разового видео.
func (e *Evaluator) PaymentRequired(d Decision) *Error {
	price := e.price
	msg := d.Message
	if msg == "" {
		msg = e.paymentMessage(d.Plan.Tier, d.Used, d.Limit)
	}
	return &Error{Reason: ReasonPaymentRequired, Message: msg, Price: &price, Currency: e.currency}
}

func (e *Evaluator) paymentMessage(tier models.PlanTier, used, limit int) string {
	if tier == models.PlanBasic {
		return fmt.Sprintf("Video generation costs %s %s. You can generate unlimited videos with payment.",
			e.price.StringFixed(2), e.currency)
	}
	return fmt.Sprintf("Free video quota exhausted (%d/%d). Additional videos cost %s %s each (unlimited).",
		used, limit, e.price.StringFixed(2), e.currency)
}

// CheckFeature проверяет, входит ли возможность в тариф.
func (e *Evaluator) CheckFeature(plan models.EffectivePlan, feature models.Feature) error {
	if plan.Limits().Features[feature] {
		return nil
	}
	return &Error{
		Reason:  ReasonUpgradeRequired,
		Message: fmt.Sprintf("Feature %q is not available on the %s plan", feature, plan.Limits().Name),
	}
}
