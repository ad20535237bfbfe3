// Package reconciliation переносит технический исход задач генерации на
// коммерческие записи покупок.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/travel-planner/internal/lib/period"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

// Store хранилище покупок и задач.
type Store interface {
	GetPurchase(ctx context.Context, purchaseID string) (*models.PurchaseRecord, error)
	GetPurchaseByReference(ctx context.Context, reference string) (*models.PurchaseRecord, error)
	FindUnlinkedPurchases(ctx context.Context, userID string, from, to time.Time) ([]models.PurchaseRecord, error)
	LinkJobPurchase(ctx context.Context, jobID, purchaseID string) error
	UpdatePurchaseStatus(ctx context.Context, purchaseID string, status models.PurchaseStatus, resultURL string) error
	ListUnlinkedPaidJobs(ctx context.Context, limit int) ([]models.GenerationJob, error)
	MarkLinkAttempt(ctx context.Context, jobID string) error
}

// Путь, по которому найдена покупка.
const (
	viaDirect    = "direct"
	viaReference = "reference"
	viaHeuristic = "heuristic"
)

type Bridge struct {
	store       Store
	log         *slog.Logger
	matchWindow time.Duration
	batchSize   int
}

func New(store Store, log *slog.Logger, matchWindow time.Duration, batchSize int) *Bridge {
	return &Bridge{store: store, log: log, matchWindow: matchWindow, batchSize: batchSize}
}

// Sync переносит статус задачи на связанную покупку. Покупка ищется по
// прямой связи, затем по общему платежному идентификатору. Найденная по
// идентификатору покупка связывается с задачей напрямую. Ошибки только
// логируются.
func (b *Bridge) Sync(ctx context.Context, job models.GenerationJob) {
	log := b.log.With(
		slog.String("user_id", job.UserID),
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	purchase, via, err := b.resolve(ctx, job)
	if err != nil {
		log.Warn("failed to resolve purchase", sl.Err(err))
		return
	}
	if purchase == nil {
		if job.IsPaid {
			log.Warn("no purchase linked to paid job", slog.String("payment_reference", job.PaymentReference))
		} else {
			log.Debug("no purchase for job")
		}
		return
	}
	b.apply(ctx, log, job, purchase, via)
}

func (b *Bridge) resolve(ctx context.Context, job models.GenerationJob) (*models.PurchaseRecord, string, error) {
	if job.PurchaseID != "" {
		p, err := b.store.GetPurchase(ctx, job.PurchaseID)
		if err == nil {
			return p, viaDirect, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", err
		}
	}
	if job.PaymentReference != "" {
		p, err := b.store.GetPurchaseByReference(ctx, job.PaymentReference)
		if err == nil {
			return p, viaReference, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", nil
}

// apply связывает покупку при необходимости и обновляет её статус.
// Возвращает true, только если связь и статус записаны.
func (b *Bridge) apply(ctx context.Context, log *slog.Logger, job models.GenerationJob, p *models.PurchaseRecord, via string) bool {
	log = log.With(slog.String("purchase_id", p.ID), slog.String("via", via))

	if p.JobID != "" && p.JobID != job.ID {
		log.Warn("purchase already linked to another job", slog.String("linked_job_id", p.JobID))
		return false
	}
	if via != viaDirect {
		if err := b.store.LinkJobPurchase(ctx, job.ID, p.ID); err != nil {
			log.Warn("failed to link purchase", sl.Err(err))
			return false
		}
	}

	status := models.PurchaseStatusFor(job.Status)
	if err := b.store.UpdatePurchaseStatus(ctx, p.ID, status, resultURL(job)); err != nil {
		log.Warn("failed to update purchase status",
			slog.String("purchase_status", string(status)),
			sl.Err(err))
		return false
	}
	log.Info("purchase synced", slog.String("purchase_status", string(status)))
	return true
}

// resultURL достает ссылку на артефакт из результата видео.
func resultURL(job models.GenerationJob) string {
	if job.Status != models.JobCompleted || len(job.Result) == 0 {
		return ""
	}
	var res struct {
		VideoURL string `json:"video_url"`
	}
	if err := json.Unmarshal(job.Result, &res); err != nil {
		return ""
	}
	return res.VideoURL
}

// BackfillReport итог прогона сверки.
type BackfillReport struct {
	Scanned   int `json:"scanned"`
	Linked    int `json:"linked"`
	Ambiguous int `json:"ambiguous"`
	Unmatched int `json:"unmatched"`
}

// Backfill связывает платные задачи без покупки. Сначала пробуется общий
// платежный идентификатор, затем эвристика: единственная несвязанная
// покупка пользователя в окне вокруг времени создания задачи.
// Неоднозначные совпадения пропускаются.
func (b *Bridge) Backfill(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport

	jobs, err := b.store.ListUnlinkedPaidJobs(ctx, b.batchSize)
	if err != nil {
		return report, err
	}
	report.Scanned = len(jobs)

	for _, job := range jobs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		log := b.log.With(slog.String("user_id", job.UserID), slog.String("job_id", job.ID))

		if b.backfillJob(ctx, log, job, &report) {
			report.Linked++
			continue
		}
		// несвязанная задача уходит в конец очереди следующих прогонов
		if err := b.store.MarkLinkAttempt(ctx, job.ID); err != nil {
			log.Warn("failed to mark link attempt", sl.Err(err))
		}
	}

	b.log.Info("purchase backfill finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("linked", report.Linked),
		slog.Int("ambiguous", report.Ambiguous),
		slog.Int("unmatched", report.Unmatched))
	return report, nil
}

// backfillJob ищет покупку для одной задачи и связывает ее. Причина
// неудачи учитывается в report.
func (b *Bridge) backfillJob(ctx context.Context, log *slog.Logger, job models.GenerationJob, report *BackfillReport) bool {
	p, via, err := b.resolve(ctx, job)
	if err != nil {
		log.Warn("failed to resolve purchase", sl.Err(err))
		report.Unmatched++
		return false
	}
	if p == nil {
		from, to := period.Centered(job.CreatedAt, b.matchWindow)
		candidates, err := b.store.FindUnlinkedPurchases(ctx, job.UserID, from, to)
		if err != nil {
			log.Warn("failed to find purchase candidates", sl.Err(err))
			report.Unmatched++
			return false
		}
		switch len(candidates) {
		case 0:
			log.Warn("no purchase candidates in match window",
				slog.Time("from", from), slog.Time("to", to))
			report.Unmatched++
			return false
		case 1:
			p, via = &candidates[0], viaHeuristic
		default:
			ids := make([]string, 0, len(candidates))
			for _, c := range candidates {
				ids = append(ids, c.ID)
			}
			log.Warn("ambiguous purchase match skipped", slog.Any("candidates", ids))
			report.Ambiguous++
			return false
		}
	}

	if !b.apply(ctx, log, job, p, via) {
		report.Unmatched++
		return false
	}
	return true
}
