package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/travel-planner/internal/models"
)

// RecordUsage записывает событие потребления ровно один раз на задачу и
// обновляет счетчики периода. Возвращает false, если событие уже было учтено.
func (s *Storage) RecordUsage(ctx context.Context, ev models.UsageEvent) (bool, error) {
	const op = "storage.RecordUsage"
	if err := ctxCheck(ctx, op); err != nil {
		return false, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (job_id, user_id, kind, period_start, is_free_quota, is_paid)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING`,
		ev.JobID, ev.UserID, string(ev.Kind), ev.Period.Start, ev.IsFreeQuota, ev.IsPaid)
	inserted, err := rowsChanged(op, res, err)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	var itineraries, videos, freeUsed, chats int
	switch ev.Kind {
	case models.JobItinerary:
		itineraries = 1
	case models.JobVideo:
		videos = 1
		if ev.IsFreeQuota {
			freeUsed = 1
		}
	case models.JobChat:
		chats = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_tracking (user_id, period_start, period_end, itineraries_generated,
			videos_generated, videos_remaining, chatbot_queries)
		VALUES ($1, $2, $3, $4, $5, GREATEST($8::int - $6::int, 0), $7)
		ON CONFLICT (user_id, period_start) DO UPDATE SET
			itineraries_generated = usage_tracking.itineraries_generated + EXCLUDED.itineraries_generated,
			videos_generated = usage_tracking.videos_generated + EXCLUDED.videos_generated,
			videos_remaining = GREATEST(usage_tracking.videos_remaining - $6::int, 0),
			chatbot_queries = usage_tracking.chatbot_queries + EXCLUDED.chatbot_queries,
			updated_at = NOW()`,
		ev.UserID, ev.Period.Start, ev.Period.End, itineraries, videos, freeUsed, chats, ev.FreeAllowance)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// GetUsageCounters возвращает счетчики периода, нулевые если учета еще не было.
func (s *Storage) GetUsageCounters(ctx context.Context, userID string, periodStart time.Time) (models.UsageCounters, error) {
	const op = "storage.GetUsageCounters"
	var c models.UsageCounters
	if err := ctxCheck(ctx, op); err != nil {
		return c, err
	}

	err := s.DB.QueryRowContext(ctx, `SELECT itineraries_generated, videos_generated,
			videos_remaining, chatbot_queries
		FROM usage_tracking
		WHERE user_id = $1 AND period_start = $2`, userID, periodStart).
		Scan(&c.ItinerariesGenerated, &c.VideosGenerated, &c.VideosRemaining, &c.ChatbotQueries)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageCounters{}, nil
	}
	if err != nil {
		return models.UsageCounters{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
