package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

const purchaseColumns = `id, user_id, COALESCE(job_id::text, ''), payment_reference, quality,
	amount::text, currency, status, result_url, created_at, updated_at`

func scanPurchase(row interface{ Scan(...any) error }) (*models.PurchaseRecord, error) {
	p := &models.PurchaseRecord{}
	var quality, status, amount string
	if err := row.Scan(&p.ID, &p.UserID, &p.JobID, &p.PaymentReference, &quality,
		&amount, &p.Currency, &status, &p.ResultURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Quality = models.VideoQuality(quality)
	p.Status = models.PurchaseStatus(status)
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Amount = d
	return p, nil
}

// EnsurePurchase создает покупку для платежной ссылки или возвращает уже существующую.
func (s *Storage) EnsurePurchase(ctx context.Context, p models.PurchaseRecord) (*models.PurchaseRecord, error) {
	const op = "storage.EnsurePurchase"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	quality := p.Quality
	if quality == "" {
		quality = models.QualityStandard
	}
	query := `INSERT INTO purchases (user_id, payment_reference, quality, amount, currency, status)
			  VALUES ($1, $2, $3, $4::numeric, $5, 'pending')
			  ON CONFLICT (payment_reference) DO UPDATE SET payment_reference = purchases.payment_reference
			  RETURNING ` + purchaseColumns
	rec, err := scanPurchase(s.DB.QueryRowContext(ctx, query,
		p.UserID, p.PaymentReference, string(quality), p.Amount.StringFixed(2), p.Currency))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// GetPurchase возвращает покупку по ID.
func (s *Storage) GetPurchase(ctx context.Context, purchaseID string) (*models.PurchaseRecord, error) {
	const op = "storage.GetPurchase"
	return s.getPurchase(ctx, op, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, purchaseID)
}

// GetPurchaseByReference ищет покупку по ссылке на платеж.
func (s *Storage) GetPurchaseByReference(ctx context.Context, reference string) (*models.PurchaseRecord, error) {
	const op = "storage.GetPurchaseByReference"
	return s.getPurchase(ctx, op, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_reference = $1`, reference)
}

func (s *Storage) getPurchase(ctx context.Context, op, query string, arg any) (*models.PurchaseRecord, error) {
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}
	p, err := scanPurchase(s.DB.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// FindUnlinkedPurchases возвращает покупки пользователя без задачи,
// созданные в интервале [from, to], новые первыми.
func (s *Storage) FindUnlinkedPurchases(ctx context.Context, userID string, from, to time.Time) ([]models.PurchaseRecord, error) {
	const op = "storage.FindUnlinkedPurchases"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM purchases
		WHERE user_id = $1 AND job_id IS NULL AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.PurchaseRecord
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// LinkJobPurchase записывает прямую связь задачи и покупки с обеих сторон.
// Уже установленная связь не перезаписывается.
func (s *Storage) LinkJobPurchase(ctx context.Context, jobID, purchaseID string) error {
	const op = "storage.LinkJobPurchase"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE generation_jobs SET purchase_id = $2, updated_at = NOW()
		WHERE id = $1 AND purchase_id IS NULL`, jobID, purchaseID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE purchases SET job_id = $1, updated_at = NOW()
		WHERE id = $2 AND job_id IS NULL`, jobID, purchaseID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdatePurchaseStatus переносит статус задачи на покупку. Пустой resultURL
// не затирает сохраненную ссылку.
func (s *Storage) UpdatePurchaseStatus(ctx context.Context, purchaseID string, status models.PurchaseStatus, resultURL string) error {
	const op = "storage.UpdatePurchaseStatus"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE purchases
		SET status = $2, result_url = COALESCE($3, result_url), updated_at = NOW()
		WHERE id = $1`, purchaseID, string(status), nullIfEmpty(resultURL))
	changed, err := rowsChanged(op, res, err)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
