package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanTier тарифный план.
type PlanTier string

const (
	PlanBasic   PlanTier = "basic"
	PlanPremium PlanTier = "premium"
	PlanPro     PlanTier = "pro"
)

// VideoQuality уровень качества видео.
type VideoQuality string

const (
	QualityStandard VideoQuality = "standard"
	QualityHigh     VideoQuality = "high"
)

var qualityRank = map[VideoQuality]int{
	QualityStandard: 1,
	QualityHigh:     2,
}

// Exceeds сообщает, выше ли запрошенное качество потолка тарифа.
func (q VideoQuality) Exceeds(ceiling VideoQuality) bool {
	return qualityRank[q] > qualityRank[ceiling]
}

// Unlimited обозначает отсутствие лимита.
const Unlimited = -1

// Feature возможность тарифа.
type Feature string

const (
	FeatureChatbot          Feature = "chatbot"
	FeatureCustomization    Feature = "customization"
	FeatureSocialSharing    Feature = "social_sharing"
	FeatureExclusiveDeals   Feature = "exclusive_deals"
	FeaturePrioritySupport  Feature = "priority_support"
	FeatureHighQualityVideo Feature = "high_quality_video"
)

// PlanLimits фиксированные лимиты тарифа.
type PlanLimits struct {
	Name                string
	MonthlyPrice        decimal.Decimal
	ItinerariesPerMonth int // Unlimited для безлимита
	FreeVideosPerMonth  int
	VideoQualityCeiling VideoQuality
	Features            map[Feature]bool
}

// UnlimitedItineraries сообщает, безлимитны ли маршруты.
func (l PlanLimits) UnlimitedItineraries() bool {
	return l.ItinerariesPerMonth == Unlimited
}

var baseFeatures = map[Feature]bool{
	FeatureChatbot:       true,
	FeatureCustomization: true,
	FeatureSocialSharing: true,
}

// Plans таблица тарифов, не редактируется во время работы.
var Plans = map[PlanTier]PlanLimits{
	PlanBasic: {
		Name:                "Basic",
		MonthlyPrice:        decimal.Zero,
		ItinerariesPerMonth: 1,
		FreeVideosPerMonth:  0,
		VideoQualityCeiling: QualityStandard,
		Features:            baseFeatures,
	},
	PlanPremium: {
		Name:                "Premium",
		MonthlyPrice:        decimal.RequireFromString("19.99"),
		ItinerariesPerMonth: Unlimited,
		FreeVideosPerMonth:  3,
		VideoQualityCeiling: QualityStandard,
		Features:            baseFeatures,
	},
	PlanPro: {
		Name:                "Pro",
		MonthlyPrice:        decimal.RequireFromString("39.99"),
		ItinerariesPerMonth: Unlimited,
		FreeVideosPerMonth:  5,
		VideoQualityCeiling: QualityHigh,
		Features: map[Feature]bool{
			FeatureChatbot:          true,
			FeatureCustomization:    true,
			FeatureSocialSharing:    true,
			FeatureExclusiveDeals:   true,
			FeaturePrioritySupport:  true,
			FeatureHighQualityVideo: true,
		},
	},
}

// LimitsFor возвращает лимиты тарифа, неизвестный тариф считается basic.
func LimitsFor(tier PlanTier) PlanLimits {
	if l, ok := Plans[tier]; ok {
		return l
	}
	return Plans[PlanBasic]
}

// PlanSource откуда получен действующий тариф.
type PlanSource string

const (
	PlanFromSubscription PlanSource = "subscription"
	PlanFromDefault      PlanSource = "default"
)

// BillingPeriod полуоткрытый интервал [Start, End) в UTC.
type BillingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains сообщает, попадает ли момент в период.
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// EffectivePlan действующий тариф пользователя, вычисляется один раз на запрос.
// Отсутствие подписки явно представлено как basic с календарным месяцем.
type EffectivePlan struct {
	UserID string        `json:"user_id"`
	Tier   PlanTier      `json:"tier"`
	Source PlanSource    `json:"source"`
	Period BillingPeriod `json:"period"`
}

// Limits лимиты действующего тарифа.
func (p EffectivePlan) Limits() PlanLimits {
	return LimitsFor(p.Tier)
}
