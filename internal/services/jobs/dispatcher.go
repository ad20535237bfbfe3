// Package jobs принимает задачи генерации и исполняет их в фоне.
// Постановка возвращает дескриптор сразу после сохранения задачи,
// все обращения к сервису генерации идут вне пути запроса.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrItineraryNotFound = errors.New("itinerary not found")
	ErrItineraryNotReady = errors.New("itinerary is not completed yet")
	ErrPhotoNotFound     = errors.New("photo not found")
	ErrInvalidJobRequest = errors.New("invalid job request")
)

// Store хранилище задач и связанных записей.
type Store interface {
	CreateJob(ctx context.Context, job models.GenerationJob, admission *models.Admission) (*models.GenerationJob, error)
	GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error)
	GetUserJob(ctx context.Context, userID, jobID string) (*models.GenerationJob, error)
	GetUserPhoto(ctx context.Context, userID, photoID string) (*models.UserPhoto, error)
	EnsurePurchase(ctx context.Context, p models.PurchaseRecord) (*models.PurchaseRecord, error)
	ListStaleJobs(ctx context.Context, pendingBefore, runningBefore time.Time, limit int) ([]models.GenerationJob, error)
	TouchJob(ctx context.Context, jobID string) error
}

// Entitlements проверки тарифа.
type Entitlements interface {
	EffectivePlan(ctx context.Context, userID string) (models.EffectivePlan, error)
	CheckItinerary(ctx context.Context, plan models.EffectivePlan) (entitlement.Decision, error)
	CheckVideo(ctx context.Context, plan models.EffectivePlan, quality models.VideoQuality) (entitlement.Decision, error)
	CheckFeature(plan models.EffectivePlan, feature models.Feature) error
	PaymentRequired(d entitlement.Decision) *entitlement.Error
}

// PaymentVerifier проверяет подтверждение оплаты видео.
type PaymentVerifier interface {
	VerifyVideoPayment(ctx context.Context, userID, reference string) (models.PaymentProof, error)
}

// Publisher очередь задач.
type Publisher interface {
	Publish(ctx context.Context, kind string, message any) error
}

// SubmitMetrics счетчик поставленных задач.
type SubmitMetrics interface {
	OnSubmit(kind string)
}

type Dispatcher struct {
	store     Store
	ent       Entitlements
	payments  PaymentVerifier
	publisher Publisher
	metrics   SubmitMetrics
	log       *slog.Logger
	now       func() time.Time
}

func NewDispatcher(store Store, ent Entitlements, payments PaymentVerifier, publisher Publisher,
	metrics SubmitMetrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		ent:       ent,
		payments:  payments,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// SubmitItinerary ставит генерацию маршрута. Слот квоты занимается
// атомарно вместе с созданием задачи.
func (d *Dispatcher) SubmitItinerary(ctx context.Context, userID string, req models.ItineraryRequest) (models.JobHandle, error) {
	const op = "jobs.SubmitItinerary"

	plan, err := d.ent.EffectivePlan(ctx, userID)
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	decision, err := d.ent.CheckItinerary(ctx, plan)
	if err != nil {
		return models.JobHandle{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	job := models.GenerationJob{
		UserID:      userID,
		Kind:        models.JobItinerary,
		Request:     payload,
		PeriodStart: plan.Period.Start,
		TotalDays:   req.Duration,
	}

	created, err := d.store.CreateJob(ctx, job, decision.Admission)
	if errors.Is(err, storage.ErrQuotaExhausted) {
		return models.JobHandle{}, entitlement.LimitReached(decision.Limit, decision.Limit)
	}
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.dispatch(ctx, created), nil
}

// SubmitVideo ставит генерацию видео. Сначала пробуется бесплатная квота,
// без неё нужен действительный и неиспользованный платеж пользователя.
func (d *Dispatcher) SubmitVideo(ctx context.Context, userID string, req models.VideoRequest) (models.JobHandle, error) {
	const op = "jobs.SubmitVideo"

	plan, err := d.ent.EffectivePlan(ctx, userID)
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	if req.Quality == "" {
		req.Quality = models.QualityStandard
	}
	decision, err := d.ent.CheckVideo(ctx, plan, req.Quality)
	if err != nil {
		return models.JobHandle{}, err
	}

	itinerary, err := d.completedItinerary(ctx, userID, req.ItineraryID)
	if err != nil {
		return models.JobHandle{}, err
	}
	photo, err := d.store.GetUserPhoto(ctx, userID, req.PhotoID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.JobHandle{}, ErrPhotoNotFound
	}
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}

	payload, err := json.Marshal(models.VideoJobPayload{
		ItineraryRemoteID: itinerary.RemoteJobID,
		PhotoFilename:     photo.RemoteFilename,
	})
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	job := models.GenerationJob{
		UserID:      userID,
		Kind:        models.JobVideo,
		Request:     payload,
		PeriodStart: plan.Period.Start,
		SourceJobID: itinerary.ID,
		PhotoID:     photo.ID,
		Quality:     req.Quality,
		TotalDays:   itinerary.TotalDays,
	}

	if decision.UseFreeQuota {
		free := job
		free.IsFreeQuota = true
		created, err := d.store.CreateJob(ctx, free, decision.Admission)
		switch {
		case err == nil:
			return d.dispatch(ctx, created), nil
		case errors.Is(err, storage.ErrQuotaExhausted):
			// квоту заняли параллельным запросом, дальше как платное видео
			decision.UseFreeQuota = false
			decision.RequiresPayment = true
			decision.Used = decision.Limit
			decision.Message = ""
		default:
			return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	if req.PaymentProof == "" {
		return models.JobHandle{}, d.ent.PaymentRequired(decision)
	}
	return d.submitPaidVideo(ctx, job, req.PaymentProof)
}

func (d *Dispatcher) submitPaidVideo(ctx context.Context, job models.GenerationJob, reference string) (models.JobHandle, error) {
	const op = "jobs.submitPaidVideo"

	proof, err := d.payments.VerifyVideoPayment(ctx, job.UserID, reference)
	if err != nil {
		return models.JobHandle{}, err
	}
	if proof.Quality != "" && job.Quality.Exceeds(proof.Quality) {
		return models.JobHandle{}, &entitlement.Error{
			Reason:  entitlement.ReasonPaymentInvalid,
			Message: "Payment does not cover the requested video quality",
		}
	}

	purchase, err := d.store.EnsurePurchase(ctx, models.PurchaseRecord{
		UserID:           job.UserID,
		PaymentReference: proof.Reference,
		Quality:          job.Quality,
		Amount:           proof.Amount,
		Currency:         proof.Currency,
		Status:           models.PurchasePending,
	})
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	if purchase.JobID != "" || purchase.UserID != job.UserID {
		return models.JobHandle{}, paymentAlreadyUsed()
	}

	job.IsPaid = true
	job.PaymentReference = proof.Reference
	job.PurchaseID = purchase.ID
	created, err := d.store.CreateJob(ctx, job, nil)
	if errors.Is(err, storage.ErrPaymentReferenceUsed) {
		return models.JobHandle{}, paymentAlreadyUsed()
	}
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.dispatch(ctx, created), nil
}

func paymentAlreadyUsed() *entitlement.Error {
	return &entitlement.Error{
		Reason:  entitlement.ReasonPaymentAlreadyUsed,
		Message: "This payment has already been used for another video",
	}
}

// SubmitChat ставит реплику чата по завершенному маршруту.
func (d *Dispatcher) SubmitChat(ctx context.Context, userID string, req models.ChatRequest) (models.JobHandle, error) {
	const op = "jobs.SubmitChat"

	plan, err := d.ent.EffectivePlan(ctx, userID)
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := d.ent.CheckFeature(plan, models.FeatureChatbot); err != nil {
		return models.JobHandle{}, err
	}

	itinerary, err := d.completedItinerary(ctx, userID, req.ItineraryID)
	if err != nil {
		return models.JobHandle{}, err
	}
	payload, err := json.Marshal(models.ChatJobPayload{
		ItineraryRemoteID: itinerary.RemoteJobID,
		Message:           req.Message,
	})
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}

	created, err := d.store.CreateJob(ctx, models.GenerationJob{
		UserID:      userID,
		Kind:        models.JobChat,
		Request:     payload,
		PeriodStart: plan.Period.Start,
		SourceJobID: itinerary.ID,
	}, nil)
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("%s: %w", op, err)
	}
	return d.dispatch(ctx, created), nil
}

func (d *Dispatcher) completedItinerary(ctx context.Context, userID, itineraryID string) (*models.GenerationJob, error) {
	itinerary, err := d.store.GetUserJob(ctx, userID, itineraryID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrItineraryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs.completedItinerary: %w", err)
	}
	if itinerary.Kind != models.JobItinerary {
		return nil, ErrItineraryNotFound
	}
	if itinerary.Status != models.JobCompleted || itinerary.RemoteJobID == "" {
		return nil, ErrItineraryNotReady
	}
	return itinerary, nil
}

// dispatch публикует задачу. Ошибка публикации не отменяет постановку:
// задача остается pending и будет отправлена повторно сверкой.
func (d *Dispatcher) dispatch(ctx context.Context, job *models.GenerationJob) models.JobHandle {
	d.metrics.OnSubmit(string(job.Kind))

	msg := models.JobMessage{JobID: job.ID, Kind: job.Kind, Attempt: job.Attempts}
	if err := d.publisher.Publish(ctx, string(job.Kind), msg); err != nil {
		d.log.Warn("failed to publish job, left for redispatch",
			slog.String("job_id", job.ID),
			slog.String("user_id", job.UserID),
			sl.Err(err))
	} else {
		d.log.Info("job submitted", slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	}

	return models.JobHandle{
		JobID:       job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		IsFreeQuota: job.IsFreeQuota,
		IsPaid:      job.IsPaid,
	}
}

// Status состояние задачи пользователя.
func (d *Dispatcher) Status(ctx context.Context, userID, jobID string) (models.JobStatusView, error) {
	job, err := d.store.GetUserJob(ctx, userID, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.JobStatusView{}, ErrJobNotFound
	}
	if err != nil {
		return models.JobStatusView{}, fmt.Errorf("jobs.Status: %w", err)
	}
	return job.StatusView(), nil
}

// Job полная запись задачи для администраторов.
func (d *Dispatcher) Job(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs.Job: %w", err)
	}
	return job, nil
}

// Redispatch повторно публикует зависшие задачи: pending старше staleAfter
// и задачи в работе без обновлений дольше stuckAfter. Номер попытки в
// сообщении равен числу сделанных попыток, поэтому исполнитель примет его.
func (d *Dispatcher) Redispatch(ctx context.Context, staleAfter, stuckAfter time.Duration, limit int) (int, error) {
	const op = "jobs.Redispatch"

	now := d.now()
	stale, err := d.store.ListStaleJobs(ctx, now.Add(-staleAfter), now.Add(-stuckAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	sent := 0
	for _, job := range stale {
		msg := models.JobMessage{JobID: job.ID, Kind: job.Kind, Attempt: job.Attempts}
		if err := d.publisher.Publish(ctx, string(job.Kind), msg); err != nil {
			d.log.Warn("failed to redispatch job", slog.String("job_id", job.ID), sl.Err(err))
			continue
		}
		if err := d.store.TouchJob(ctx, job.ID); err != nil {
			d.log.Warn("failed to touch redispatched job", slog.String("job_id", job.ID), sl.Err(err))
		}
		sent++
	}
	if len(stale) > 0 {
		d.log.Info("stale jobs redispatched", slog.Int("found", len(stale)), slog.Int("sent", sent))
	}
	return sent, nil
}
