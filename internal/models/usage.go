package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuotaKind вид ограниченного потребления.
type QuotaKind string

const (
	QuotaItinerary QuotaKind = "itinerary"
	QuotaFreeVideo QuotaKind = "free_video"
)

// Admission заявка на занятие слота квоты в периоде.
// Limit == Unlimited означает учет без ограничения.
type Admission struct {
	Kind   QuotaKind
	Limit  int
	Period BillingPeriod
}

// UsageCounters счетчики учета за период.
type UsageCounters struct {
	ItinerariesGenerated int `json:"itineraries_generated"`
	VideosGenerated      int `json:"videos_generated"`
	VideosRemaining      int `json:"videos_remaining"`
	ChatbotQueries       int `json:"chatbot_queries"`
}

// UsageEvent событие потребления, уникальное по задаче.
type UsageEvent struct {
	JobID         string
	UserID        string
	Kind          JobKind
	Period        BillingPeriod
	IsFreeQuota   bool
	IsPaid        bool
	FreeAllowance int
}

// QuotaUsage использование и лимит одного вида квоты.
type QuotaUsage struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// UsageSummary полная сводка использования за текущий период.
type UsageSummary struct {
	Plan        PlanTier         `json:"plan"`
	PlanName    string           `json:"plan_name"`
	Source      PlanSource       `json:"source"`
	Period      BillingPeriod    `json:"period"`
	Itineraries QuotaUsage       `json:"itineraries"`
	FreeVideos  QuotaUsage       `json:"free_videos"`
	Counters    UsageCounters    `json:"counters"`
	VideoPrice  decimal.Decimal  `json:"video_price"`
	Currency    string           `json:"currency"`
	Quality     VideoQuality     `json:"video_quality"`
	Features    map[Feature]bool `json:"features"`
	GeneratedAt time.Time        `json:"generated_at"`
}
