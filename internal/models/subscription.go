package models

import "time"

// SubscriptionStatus жизненный цикл подписки.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
)

// Subscription связывает пользователя с тарифом и окном расчетного периода.
// У пользователя не более одной подписки.
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"-"`
	Tier                 PlanTier           `json:"tier"`
	Status               SubscriptionStatus `json:"status"`
	StripeSubscriptionID string             `json:"-"`
	StripePriceID        string             `json:"-"`
	PeriodStart          *time.Time         `json:"period_start,omitempty"`
	PeriodEnd            *time.Time         `json:"period_end,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// SubscriptionUpdate изменения подписки, пришедшие от платежного провайдера.
type SubscriptionUpdate struct {
	StripeSubscriptionID string
	Status               SubscriptionStatus
	Tier                 PlanTier // пустое значение не меняет тариф
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	CancelAtPeriodEnd    bool
}
