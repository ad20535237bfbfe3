package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

const subscriptionColumns = `id, user_id, tier, status, COALESCE(stripe_subscription_id, ''),
	COALESCE(stripe_price_id, ''), period_start, period_end, cancel_at_period_end, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var tier, status string
	var start, end sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserID, &tier, &status, &sub.StripeSubscriptionID,
		&sub.StripePriceID, &start, &end, &sub.CancelAtPeriodEnd, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Tier = models.PlanTier(tier)
	sub.Status = models.SubscriptionStatus(status)
	if start.Valid {
		sub.PeriodStart = &start.Time
	}
	if end.Valid {
		sub.PeriodEnd = &end.Time
	}
	return sub, nil
}

// GetSubscription возвращает подписку пользователя.
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// UpsertSubscription создает или обновляет единственную подписку пользователя
// и синхронизирует тариф в профиле.
func (s *Storage) UpsertSubscription(ctx context.Context, userID string, upd models.SubscriptionUpdate, priceID string) error {
	const op = "storage.UpsertSubscription"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	tier := upd.Tier
	if tier == "" {
		tier = models.PlanBasic
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, tier, status, stripe_subscription_id, stripe_price_id,
			period_start, period_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_price_id = COALESCE(EXCLUDED.stripe_price_id, subscriptions.stripe_price_id),
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()`,
		userID, string(tier), string(upd.Status), nullIfEmpty(upd.StripeSubscriptionID), nullIfEmpty(priceID),
		upd.PeriodStart, upd.PeriodEnd, upd.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := syncProfileTier(ctx, tx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateSubscriptionByStripeID применяет изменение к подписке по ID провайдера
// и возвращает владельца. Пустой Tier оставляет тариф прежним.
func (s *Storage) UpdateSubscriptionByStripeID(ctx context.Context, upd models.SubscriptionUpdate) (string, error) {
	const op = "storage.UpdateSubscriptionByStripeID"
	if err := ctxCheck(ctx, op); err != nil {
		return "", err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx, `
		UPDATE subscriptions SET
			status = $2,
			tier = COALESCE($3, tier),
			period_start = COALESCE($4, period_start),
			period_end = COALESCE($5, period_end),
			cancel_at_period_end = $6,
			updated_at = NOW()
		WHERE stripe_subscription_id = $1
		RETURNING user_id`,
		upd.StripeSubscriptionID, string(upd.Status), nullIfEmpty(string(upd.Tier)),
		upd.PeriodStart, upd.PeriodEnd, upd.CancelAtPeriodEnd).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := syncProfileTier(ctx, tx, userID); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}

// syncProfileTier копирует действующий тариф в профиль: только активная
// подписка дает свой тариф, иначе basic.
func syncProfileTier(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users u SET plan_tier = CASE WHEN s.status = 'active' THEN s.tier ELSE 'basic' END
		FROM subscriptions s
		WHERE s.user_id = u.id AND u.id = $1`, userID)
	return err
}
