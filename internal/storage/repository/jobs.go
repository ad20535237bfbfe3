package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

const jobColumns = `id, user_id, kind, status, COALESCE(remote_job_id, ''), progress, stage,
	current_day, total_days, request, result, error_message, attempts, period_start,
	COALESCE(source_job_id::text, ''), COALESCE(photo_id::text, ''), COALESCE(quality, ''),
	is_free_quota, is_paid, COALESCE(payment_reference, ''), COALESCE(purchase_id::text, ''),
	COALESCE(share_slug, ''), created_at, updated_at, completed_at`

// условие, не пропускающее изменения конечных задач
const notTerminal = `status NOT IN ('completed', 'failed')`

func scanJob(row interface{ Scan(...any) error }) (*models.GenerationJob, error) {
	j := &models.GenerationJob{}
	var kind, status, quality string
	var request, result []byte
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.UserID, &kind, &status, &j.RemoteJobID, &j.Progress, &j.Stage,
		&j.CurrentDay, &j.TotalDays, &request, &result, &j.ErrorMessage, &j.Attempts, &j.PeriodStart,
		&j.SourceJobID, &j.PhotoID, &quality,
		&j.IsFreeQuota, &j.IsPaid, &j.PaymentReference, &j.PurchaseID,
		&j.ShareSlug, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Kind = models.JobKind(kind)
	j.Status = models.JobStatus(status)
	j.Quality = models.VideoQuality(quality)
	if len(request) > 0 {
		j.Request = json.RawMessage(request)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func jsonOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// CreateJob сохраняет задачу в состоянии pending. Если передан admission,
// слот квоты занимается в той же транзакции одним условным upsert; при
// исчерпанной квоте задача не создается и возвращается ErrQuotaExhausted.
// Если у задачи известна покупка, связь пишется с обеих сторон.
func (s *Storage) CreateJob(ctx context.Context, job models.GenerationJob, admission *models.Admission) (*models.GenerationJob, error) {
	const op = "storage.CreateJob"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if admission != nil {
		if err := admit(ctx, tx, job.UserID, *admission); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	query := `INSERT INTO generation_jobs (user_id, kind, status, request, period_start,
			      source_job_id, photo_id, quality, is_free_quota, is_paid, payment_reference,
			      purchase_id, total_days)
			  VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			  RETURNING ` + jobColumns
	created, err := scanJob(tx.QueryRowContext(ctx, query,
		job.UserID, string(job.Kind), jsonOrEmpty(job.Request), job.PeriodStart,
		nullIfEmpty(job.SourceJobID), nullIfEmpty(job.PhotoID), nullIfEmpty(string(job.Quality)),
		job.IsFreeQuota, job.IsPaid, nullIfEmpty(job.PaymentReference),
		nullIfEmpty(job.PurchaseID), job.TotalDays))
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPaymentReferenceUsed)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if job.PurchaseID != "" {
		res, err := tx.ExecContext(ctx, `UPDATE purchases SET job_id = $1, updated_at = NOW()
			WHERE id = $2 AND job_id IS NULL`, created.ID, job.PurchaseID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPaymentReferenceUsed)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// admit занимает слот квоты: вставка или инкремент проходят только пока
// used < limit. Для безлимита счетчик просто растет.
func admit(ctx context.Context, tx *sql.Tx, userID string, a models.Admission) error {
	if a.Limit == models.Unlimited {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_counters (user_id, period_start, kind, used)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (user_id, period_start, kind) DO UPDATE SET used = quota_counters.used + 1`,
			userID, a.Period.Start, string(a.Kind))
		return err
	}

	var used int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO quota_counters (user_id, period_start, kind, used)
		SELECT $1, $2, $3, 1 WHERE $4::int > 0
		ON CONFLICT (user_id, period_start, kind) DO UPDATE SET used = quota_counters.used + 1
		WHERE quota_counters.used < $4::int
		RETURNING used`,
		userID, a.Period.Start, string(a.Kind), a.Limit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrQuotaExhausted
	}
	return err
}

// GetQuotaUsed возвращает число занятых слотов квоты в периоде.
func (s *Storage) GetQuotaUsed(ctx context.Context, userID string, periodStart time.Time, kind models.QuotaKind) (int, error) {
	const op = "storage.GetQuotaUsed"
	if err := ctxCheck(ctx, op); err != nil {
		return 0, err
	}

	var used int
	err := s.DB.QueryRowContext(ctx, `SELECT used FROM quota_counters
		WHERE user_id = $1 AND period_start = $2 AND kind = $3`,
		userID, periodStart, string(kind)).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return used, nil
}

// ReleaseQuota освобождает один слот квоты, не опускаясь ниже нуля.
func (s *Storage) ReleaseQuota(ctx context.Context, userID string, periodStart time.Time, kind models.QuotaKind) error {
	const op = "storage.ReleaseQuota"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	_, err := s.DB.ExecContext(ctx, `UPDATE quota_counters SET used = GREATEST(used - 1, 0)
		WHERE user_id = $1 AND period_start = $2 AND kind = $3`,
		userID, periodStart, string(kind))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetJob возвращает задачу по ID.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	const op = "storage.GetJob"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	job, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

// GetUserJob возвращает задачу, только если она принадлежит пользователю.
func (s *Storage) GetUserJob(ctx context.Context, userID, jobID string) (*models.GenerationJob, error) {
	const op = "storage.GetUserJob"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	job, err := scanJob(s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 AND user_id = $2`, jobID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

// ClaimAttempt захватывает попытку выполнения: pending становится
// processing, счетчик попыток растет. Захват проходит только если число
// уже сделанных попыток равно expectedAttempts, поэтому дубликат сообщения
// получает ErrJobClaimed. Для конечной задачи возвращается ErrJobTerminal
// вместе с ее текущим состоянием.
func (s *Storage) ClaimAttempt(ctx context.Context, jobID string, expectedAttempts int) (*models.GenerationJob, error) {
	const op = "storage.ClaimAttempt"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE generation_jobs
			  SET status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
			      attempts = attempts + 1,
			      updated_at = NOW()
			  WHERE id = $1 AND attempts = $2 AND ` + notTerminal + `
			  RETURNING ` + jobColumns
	job, err := scanJob(s.DB.QueryRowContext(ctx, query, jobID, expectedAttempts))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if current.Status.IsTerminal() {
		return current, fmt.Errorf("%s: %w", op, storage.ErrJobTerminal)
	}
	return current, fmt.Errorf("%s: %w", op, storage.ErrJobClaimed)
}

// SetRemoteJob сохраняет ID удаленной задачи и переводит видео в generating.
func (s *Storage) SetRemoteJob(ctx context.Context, jobID, remoteJobID string, status models.JobStatus) (bool, error) {
	const op = "storage.SetRemoteJob"
	if err := ctxCheck(ctx, op); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs
		SET remote_job_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND `+notTerminal, jobID, remoteJobID, string(status))
	return rowsChanged(op, res, err)
}

// UpdateProgress обновляет промежуточный прогресс. Процент не убывает.
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, p models.JobProgress) (bool, error) {
	const op = "storage.UpdateProgress"
	if err := ctxCheck(ctx, op); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs
		SET progress = GREATEST(progress, $2), current_day = $3, stage = $4, updated_at = NOW()
		WHERE id = $1 AND `+notTerminal, jobID, clampProgress(p.Progress), p.CurrentDay, p.Stage)
	return rowsChanged(op, res, err)
}

// Heartbeat отмечает, что исполнитель еще владеет задачей, даже если
// опрос сервиса генерации не принес прогресса. Возвращает false для
// конечной задачи.
func (s *Storage) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	const op = "storage.Heartbeat"
	if err := ctxCheck(ctx, op); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs SET updated_at = NOW()
		WHERE id = $1 AND `+notTerminal, jobID)
	return rowsChanged(op, res, err)
}

// FinishJob переводит задачу в конечное состояние. Возвращает false, если
// задача уже была конечной: побочные эффекты перехода должны выполняться
// только при true.
func (s *Storage) FinishJob(ctx context.Context, jobID string, out models.JobOutcome) (bool, error) {
	const op = "storage.FinishJob"
	if err := ctxCheck(ctx, op); err != nil {
		return false, err
	}
	if !out.Status.IsTerminal() {
		return false, fmt.Errorf("%s: status %q is not terminal", op, out.Status)
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs
		SET status = $2,
		    result = COALESCE($3::jsonb, result),
		    error_message = $4,
		    remote_job_id = COALESCE($5, remote_job_id),
		    progress = GREATEST(progress, $6),
		    share_slug = COALESCE($7, share_slug),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND `+notTerminal,
		jobID, string(out.Status), jsonOrNull(out.Result), out.ErrorMessage,
		nullIfEmpty(out.RemoteJobID), clampProgress(out.Progress), nullIfEmpty(out.ShareSlug))
	return rowsChanged(op, res, err)
}

// ReplaceJobResult заменяет результат завершенной задачи (правки маршрута из чата).
func (s *Storage) ReplaceJobResult(ctx context.Context, jobID string, result json.RawMessage) error {
	const op = "storage.ReplaceJobResult"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs SET result = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'completed'`, jobID, []byte(result))
	changed, err := rowsChanged(op, res, err)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

// ListStaleJobs возвращает задачи, которые давно не продвигались: pending
// дольше pendingBefore или в работе без обновлений дольше runningBefore.
func (s *Storage) ListStaleJobs(ctx context.Context, pendingBefore, runningBefore time.Time, limit int) ([]models.GenerationJob, error) {
	const op = "storage.ListStaleJobs"
	return s.listJobs(ctx, op, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE (status = 'pending' AND updated_at < $1)
		   OR (status IN ('processing', 'generating') AND updated_at < $2)
		ORDER BY created_at
		LIMIT $3`, pendingBefore, runningBefore, limit)
}

// ListChatHistory возвращает завершенные реплики чата по маршруту в порядке создания.
func (s *Storage) ListChatHistory(ctx context.Context, itineraryJobID string, limit int) ([]models.GenerationJob, error) {
	const op = "storage.ListChatHistory"
	return s.listJobs(ctx, op, `SELECT `+jobColumns+` FROM (
			SELECT * FROM generation_jobs
			WHERE source_job_id = $1 AND kind = 'chat' AND status = 'completed'
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at`, itineraryJobID, limit)
}

// ListUnlinkedPaidJobs возвращает платные видео без связанной покупки.
// Сначала еще не проверявшиеся, затем давнее всего проверявшиеся, чтобы
// несвязываемые задачи не занимали каждый прогон целиком.
func (s *Storage) ListUnlinkedPaidJobs(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	const op = "storage.ListUnlinkedPaidJobs"
	return s.listJobs(ctx, op, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE kind = 'video' AND is_paid = TRUE AND purchase_id IS NULL
		ORDER BY link_attempted_at NULLS FIRST, created_at
		LIMIT $1`, limit)
}

// MarkLinkAttempt отмечает неудачную попытку найти покупку для задачи.
func (s *Storage) MarkLinkAttempt(ctx context.Context, jobID string) error {
	const op = "storage.MarkLinkAttempt"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs SET link_attempted_at = NOW() WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TouchJob обновляет updated_at, чтобы повторная отправка не выбиралась сразу снова.
func (s *Storage) TouchJob(ctx context.Context, jobID string) error {
	const op = "storage.TouchJob"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE generation_jobs SET updated_at = NOW() WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) listJobs(ctx context.Context, op, query string, args ...any) ([]models.GenerationJob, error) {
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func rowsChanged(op string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
