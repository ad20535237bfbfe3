// Package payment работает с платежным провайдером Stripe: создает сессии
// оплаты, проверяет подтверждения оплаты видео и обрабатывает вебхуки.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"

	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
)

// Метаданные сессии оплаты.
const (
	metaUserID       = "user_id"
	metaPurchaseType = "purchase_type"
	metaQuality      = "quality"
	metaTier         = "tier"

	purchaseVideo = "video_generation"
)

var ErrUnknownPlan = errors.New("plan is not available for purchase")

// CheckoutAPI сессии Stripe Checkout.
type CheckoutAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Store записи покупок, подписок и журнал вебхуков.
type Store interface {
	EnsurePurchase(ctx context.Context, p models.PurchaseRecord) (*models.PurchaseRecord, error)
	UpsertSubscription(ctx context.Context, userID string, upd models.SubscriptionUpdate, priceID string) error
	UpdateSubscriptionByStripeID(ctx context.Context, upd models.SubscriptionUpdate) (string, error)
	BeginWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
	FinishWebhookEvent(ctx context.Context, eventID string, procErr error) error
}

// PlanInvalidator сбрасывает закешированный тариф пользователя.
type PlanInvalidator interface {
	InvalidatePlan(ctx context.Context, userID string)
}

type Service struct {
	checkout CheckoutAPI
	store    Store
	plans    PlanInvalidator
	cfg      config.Stripe
	price    decimal.Decimal
	currency string
	log      *slog.Logger
}

// NewCheckoutClient клиент Checkout с ключом из конфига.
func NewCheckoutClient(secretKey string) *session.Client {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

func New(checkout CheckoutAPI, store Store, plans PlanInvalidator, cfg config.Stripe,
	billing config.Billing, log *slog.Logger) (*Service, error) {
	price, err := decimal.NewFromString(billing.VideoPrice)
	if err != nil {
		return nil, fmt.Errorf("payment.New: video price: %w", err)
	}
	return &Service{
		checkout: checkout,
		store:    store,
		plans:    plans,
		cfg:      cfg,
		price:    price,
		currency: strings.ToUpper(billing.Currency),
		log:      log,
	}, nil
}

// CreateVideoCheckout создает сессию разовой оплаты видео. ID сессии
// служит подтверждением оплаты при постановке видео.
func (s *Service) CreateVideoCheckout(ctx context.Context, userID string, quality models.VideoQuality) (models.CheckoutSession, error) {
	const op = "payment.CreateVideoCheckout"

	if quality == "" {
		quality = models.QualityStandard
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(s.currency)),
					UnitAmount: stripe.Int64(s.price.Shift(2).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("AI travel video (" + string(quality) + ")"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(s.cfg.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metaUserID, userID)
	params.AddMetadata(metaPurchaseType, purchaseVideo)
	params.AddMetadata(metaQuality, string(quality))

	sess, err := s.checkout.New(params)
	if err != nil {
		return models.CheckoutSession{}, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("video checkout created", slog.String("user_id", userID), slog.String("session_id", sess.ID))
	return models.CheckoutSession{SessionID: sess.ID, URL: sess.URL, Amount: s.price, Currency: s.currency}, nil
}

// CreateSubscriptionCheckout создает сессию оформления подписки на тариф.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, userID string, tier models.PlanTier) (models.CheckoutSession, error) {
	const op = "payment.CreateSubscriptionCheckout"

	priceID := s.priceFor(tier)
	if priceID == "" {
		return models.CheckoutSession{}, ErrUnknownPlan
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metaUserID: userID, metaTier: string(tier)},
		},
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metaUserID, userID)
	params.AddMetadata(metaTier, string(tier))

	sess, err := s.checkout.New(params)
	if err != nil {
		return models.CheckoutSession{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.CheckoutSession{
		SessionID: sess.ID,
		URL:       sess.URL,
		Amount:    models.LimitsFor(tier).MonthlyPrice,
		Currency:  s.currency,
	}, nil
}

func (s *Service) priceFor(tier models.PlanTier) string {
	switch tier {
	case models.PlanPremium:
		return s.cfg.PremiumPriceID
	case models.PlanPro:
		return s.cfg.ProPriceID
	default:
		return ""
	}
}

func (s *Service) tierFor(priceID string) models.PlanTier {
	switch {
	case priceID == "":
		return ""
	case priceID == s.cfg.PremiumPriceID:
		return models.PlanPremium
	case priceID == s.cfg.ProPriceID:
		return models.PlanPro
	default:
		return ""
	}
}

// VerifyVideoPayment проверяет, что сессия оплачена этим пользователем и
// куплена именно генерация видео.
func (s *Service) VerifyVideoPayment(ctx context.Context, userID, reference string) (models.PaymentProof, error) {
	const op = "payment.VerifyVideoPayment"

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.checkout.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			s.log.Info("payment proof rejected by provider", slog.String("user_id", userID), sl.Err(err))
			return models.PaymentProof{}, invalidPayment("Payment session not found")
		}
		return models.PaymentProof{}, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid:
		return models.PaymentProof{}, invalidPayment("Payment has not been completed")
	case sess.Metadata[metaUserID] != userID:
		return models.PaymentProof{}, invalidPayment("Payment belongs to another user")
	case sess.Metadata[metaPurchaseType] != purchaseVideo:
		return models.PaymentProof{}, invalidPayment("Payment is not for video generation")
	}

	quality := models.VideoQuality(sess.Metadata[metaQuality])
	if quality == "" {
		quality = models.QualityStandard
	}
	return models.PaymentProof{
		Reference: sess.ID,
		UserID:    userID,
		Amount:    decimal.New(sess.AmountTotal, -2),
		Currency:  strings.ToUpper(string(sess.Currency)),
		Quality:   quality,
	}, nil
}

func invalidPayment(msg string) *entitlement.Error {
	return &entitlement.Error{Reason: entitlement.ReasonPaymentInvalid, Message: msg}
}
