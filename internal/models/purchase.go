package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus состояние коммерческой записи, повторяет техническое состояние задачи.
type PurchaseStatus string

const (
	PurchasePending    PurchaseStatus = "pending"
	PurchaseProcessing PurchaseStatus = "processing"
	PurchaseCompleted  PurchaseStatus = "completed"
	PurchaseFailed     PurchaseStatus = "failed"
)

// PurchaseStatusFor отображает статус задачи в статус покупки.
func PurchaseStatusFor(s JobStatus) PurchaseStatus {
	switch s {
	case JobCompleted:
		return PurchaseCompleted
	case JobFailed:
		return PurchaseFailed
	case JobProcessing, JobGenerating:
		return PurchaseProcessing
	default:
		return PurchasePending
	}
}

// PurchaseRecord покупка одной платной единицы (видео).
type PurchaseRecord struct {
	ID               string
	UserID           string
	JobID            string // пусто, пока связь не установлена
	PaymentReference string
	Quality          VideoQuality
	Amount           decimal.Decimal
	Currency         string
	Status           PurchaseStatus
	ResultURL        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PaymentProof проверенное подтверждение оплаты.
type PaymentProof struct {
	Reference string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Quality   VideoQuality
}

// CheckoutSession ссылка на оплату разового видео.
type CheckoutSession struct {
	SessionID string          `json:"session_id"`
	URL       string          `json:"url"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// WebhookEvent событие платежного провайдера, сохраненное для аудита и дедупликации.
type WebhookEvent struct {
	ID            string
	StripeEventID string
	Type          string
	Status        string
	ErrorMessage  string
	CreatedAt     time.Time
}

// VideoCheckoutRequest запрос на оплату одного видео.
type VideoCheckoutRequest struct {
	Quality VideoQuality `json:"quality" validate:"omitempty,oneof=standard high"`
}

// SubscriptionCheckoutRequest запрос на оформление подписки.
type SubscriptionCheckoutRequest struct {
	Tier PlanTier `json:"tier" validate:"required,oneof=premium pro"`
}

// RoleChangeRequest смена роли пользователя администратором.
type RoleChangeRequest struct {
	Role Role `json:"role" validate:"required,oneof=user staff_admin super_admin"`
}
