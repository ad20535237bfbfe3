package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BeginWebhookEvent регистрирует событие провайдера. Возвращает false для
// уже обработанного или обрабатываемого события; упавшее ранее событие
// разрешается обработать повторно.
func (s *Storage) BeginWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	const op = "storage.BeginWebhookEvent"
	if err := ctxCheck(ctx, op); err != nil {
		return false, err
	}

	var id string
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_events (stripe_event_id, type, status)
		VALUES ($1, $2, 'received')
		ON CONFLICT (stripe_event_id) DO UPDATE SET status = 'received', error_message = ''
		WHERE webhook_events.status = 'failed'
		RETURNING id`, eventID, eventType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// FinishWebhookEvent фиксирует результат обработки события.
func (s *Storage) FinishWebhookEvent(ctx context.Context, eventID string, procErr error) error {
	const op = "storage.FinishWebhookEvent"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	status, msg := "processed", ""
	if procErr != nil {
		status, msg = "failed", procErr.Error()
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE webhook_events
		SET status = $2, error_message = $3, processed_at = NOW()
		WHERE stripe_event_id = $1`, eventID, status, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
