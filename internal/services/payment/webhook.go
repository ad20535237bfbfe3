package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Типы обрабатываемых событий.
const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventInvoiceFailed       = "invoice.payment_failed"
)

// HandleWebhook проверяет подпись и применяет событие провайдера.
// Каждое событие обрабатывается не более одного раза, упавшее
// событие Stripe доставит повторно.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "payment.HandleWebhook"

	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	eventType := string(event.Type)
	log := s.log.With(slog.String("event_id", event.ID), slog.String("event_type", eventType))

	fresh, err := s.store.BeginWebhookEvent(ctx, event.ID, eventType)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !fresh {
		log.Debug("webhook event already handled")
		return nil
	}

	procErr := s.applyEvent(ctx, eventType, event.Data.Raw, log)
	if err := s.store.FinishWebhookEvent(ctx, event.ID, procErr); err != nil {
		log.Error("failed to record webhook result", sl.Err(err))
	}
	if procErr != nil {
		log.Error("webhook event failed", sl.Err(procErr))
		return fmt.Errorf("%s: %w", op, procErr)
	}
	log.Info("webhook event processed")
	return nil
}

func (s *Service) applyEvent(ctx context.Context, eventType string, raw json.RawMessage, log *slog.Logger) error {
	switch eventType {
	case eventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		return s.checkoutCompleted(ctx, &sess, log)
	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		upd := s.subscriptionUpdate(&sub)
		if eventType == eventSubscriptionDeleted {
			upd.Status = models.SubscriptionCancelled
		}
		return s.applySubscription(ctx, upd, sub.Metadata[metaUserID], subscriptionPrice(&sub), log)
	case eventInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil
		}
		upd := models.SubscriptionUpdate{StripeSubscriptionID: inv.Subscription.ID, Status: models.SubscriptionPastDue}
		return s.applySubscription(ctx, upd, "", "", log)
	default:
		log.Debug("webhook event ignored")
		return nil
	}
}

// checkoutCompleted фиксирует оплату видео записью о покупке, чтобы она
// существовала даже если пользователь не вернулся в приложение.
func (s *Service) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession, log *slog.Logger) error {
	userID := sess.Metadata[metaUserID]
	if userID == "" {
		log.Warn("checkout session without user metadata", slog.String("session_id", sess.ID))
		return nil
	}

	switch {
	case sess.Metadata[metaPurchaseType] == purchaseVideo:
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil
		}
		quality := models.VideoQuality(sess.Metadata[metaQuality])
		if quality == "" {
			quality = models.QualityStandard
		}
		_, err := s.store.EnsurePurchase(ctx, models.PurchaseRecord{
			UserID:           userID,
			PaymentReference: sess.ID,
			Quality:          quality,
			Amount:           decimal.New(sess.AmountTotal, -2),
			Currency:         strings.ToUpper(string(sess.Currency)),
			Status:           models.PurchasePending,
		})
		return err
	case sess.Subscription != nil && sess.Subscription.ID != "":
		upd := models.SubscriptionUpdate{
			StripeSubscriptionID: sess.Subscription.ID,
			Status:               models.SubscriptionActive,
			Tier:                 models.PlanTier(sess.Metadata[metaTier]),
		}
		if err := s.store.UpsertSubscription(ctx, userID, upd, ""); err != nil {
			return err
		}
		s.plans.InvalidatePlan(ctx, userID)
		return nil
	default:
		return nil
	}
}

// applySubscription обновляет подписку по ID провайдера. Неизвестная
// подписка создается, если в метаданных указан владелец.
func (s *Service) applySubscription(ctx context.Context, upd models.SubscriptionUpdate, ownerID, priceID string, log *slog.Logger) error {
	userID, err := s.store.UpdateSubscriptionByStripeID(ctx, upd)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound) && ownerID != "":
		if err := s.store.UpsertSubscription(ctx, ownerID, upd, priceID); err != nil {
			return err
		}
		userID = ownerID
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("subscription is unknown", slog.String("stripe_subscription_id", upd.StripeSubscriptionID))
		return nil
	default:
		return err
	}

	s.plans.InvalidatePlan(ctx, userID)
	log.Info("subscription updated",
		slog.String("user_id", userID),
		slog.String("status", string(upd.Status)),
		slog.String("tier", string(upd.Tier)))
	return nil
}

func (s *Service) subscriptionUpdate(sub *stripe.Subscription) models.SubscriptionUpdate {
	upd := models.SubscriptionUpdate{
		StripeSubscriptionID: sub.ID,
		Status:               subscriptionStatus(sub.Status),
		Tier:                 s.tierFor(subscriptionPrice(sub)),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodStart > 0 && sub.CurrentPeriodEnd > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		upd.PeriodStart, upd.PeriodEnd = &start, &end
	}
	return upd
}

func subscriptionPrice(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil {
			return item.Price.ID
		}
	}
	return ""
}

func subscriptionStatus(st stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch st {
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionTrialing
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionCancelled
	default:
		return models.SubscriptionPastDue
	}
}
