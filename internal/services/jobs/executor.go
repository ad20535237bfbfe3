package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gosimple/slug"

	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

// chatHistoryLimit сколько прошлых реплик уходит в сервис генерации.
const chatHistoryLimit = 20

// ExecStore операции исполнителя над задачами.
type ExecStore interface {
	ClaimAttempt(ctx context.Context, jobID string, expectedAttempts int) (*models.GenerationJob, error)
	SetRemoteJob(ctx context.Context, jobID, remoteJobID string, status models.JobStatus) (bool, error)
	UpdateProgress(ctx context.Context, jobID string, p models.JobProgress) (bool, error)
	Heartbeat(ctx context.Context, jobID string) (bool, error)
	FinishJob(ctx context.Context, jobID string, out models.JobOutcome) (bool, error)
	GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error)
	ReplaceJobResult(ctx context.Context, jobID string, result json.RawMessage) error
	ListChatHistory(ctx context.Context, itineraryJobID string, limit int) ([]models.GenerationJob, error)
}

// Gateway вызовы сервиса генерации, нужные исполнителю.
type Gateway interface {
	CreateItinerary(ctx context.Context, req models.ItineraryRequest) gateway.Envelope
	Chat(ctx context.Context, in gateway.ChatInput) gateway.Envelope
	GenerateVideo(ctx context.Context, itineraryID, photoFilename string) gateway.Envelope
	GetVideoStatus(ctx context.Context, videoID string) gateway.Envelope
}

// RetryPublisher отложенная повторная отправка.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, kind string, message any) error
}

// UsageRecorder учет потребления при завершении задачи.
type UsageRecorder interface {
	OnTerminal(ctx context.Context, job models.GenerationJob)
}

// PurchaseSyncer перенос исхода задачи на покупку.
type PurchaseSyncer interface {
	Sync(ctx context.Context, job models.GenerationJob)
}

// Instrumentation хуки жизненного цикла задачи.
type Instrumentation interface {
	OnStart(kind string)
	OnComplete(kind string, d time.Duration)
	OnFail(kind string, d time.Duration)
	OnRetry(kind string, d time.Duration)
}

type Executor struct {
	store     ExecStore
	gateway   Gateway
	retry     RetryPublisher
	usage     UsageRecorder
	purchases PurchaseSyncer
	metrics   Instrumentation
	log       *slog.Logger
	cfg       config.Executor
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewExecutor(store ExecStore, gw Gateway, retry RetryPublisher, usage UsageRecorder,
	purchases PurchaseSyncer, metrics Instrumentation, log *slog.Logger, cfg config.Executor) *Executor {
	return &Executor{
		store:     store,
		gateway:   gw,
		retry:     retry,
		usage:     usage,
		purchases: purchases,
		metrics:   metrics,
		log:       log,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle обрабатывает одно сообщение очереди. Возвращенная ошибка
// приводит к повторной доставке сообщения.
func (e *Executor) Handle(ctx context.Context, body []byte) error {
	var msg models.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.JobID == "" {
		e.log.Error("dropping malformed job message", slog.String("body", string(body)), sl.Err(err))
		return nil
	}
	log := e.log.With(slog.String("job_id", msg.JobID), slog.String("kind", string(msg.Kind)),
		slog.Int("attempt", msg.Attempt))

	job, err := e.store.ClaimAttempt(ctx, msg.JobID, msg.Attempt)
	switch {
	case errors.Is(err, storage.ErrJobTerminal):
		log.Info("job already finished, message dropped")
		return nil
	case errors.Is(err, storage.ErrJobClaimed):
		log.Info("duplicate job message dropped")
		return nil
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("job not found, message dropped")
		return nil
	case err != nil:
		return fmt.Errorf("jobs.Handle: %w", err)
	}

	log = log.With(slog.String("user_id", job.UserID))
	kind := string(job.Kind)
	started := time.Now()
	e.metrics.OnStart(kind)
	log.Info("job started")

	runErr := e.run(ctx, log, job)
	if runErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		// остановка воркера: задачу подберет сверка зависших
		log.Warn("job interrupted by shutdown", sl.Err(runErr))
		return nil
	}

	if job.Attempts <= e.cfg.MaxJobRetries {
		e.metrics.OnRetry(kind, time.Since(started))
		next := models.JobMessage{JobID: job.ID, Kind: job.Kind, Attempt: job.Attempts}
		if err := e.retry.PublishRetry(ctx, kind, next); err != nil {
			log.Error("failed to schedule retry, left for redispatch", sl.Err(err))
			return nil
		}
		log.Warn("job attempt failed, retry scheduled",
			slog.Int("retries_left", e.cfg.MaxJobRetries-job.Attempts), sl.Err(runErr))
		return nil
	}

	log.Error("job failed after retries", sl.Err(runErr))
	return e.finish(ctx, log, job, models.JobOutcome{
		Status:       models.JobFailed,
		ErrorMessage: runErr.Error(),
		RemoteJobID:  job.RemoteJobID,
	})
}

// run выполняет задачу. Отказ, о котором сообщил сервис генерации, сразу
// завершает задачу. Возвращенная ошибка считается временной.
func (e *Executor) run(ctx context.Context, log *slog.Logger, job *models.GenerationJob) error {
	switch job.Kind {
	case models.JobItinerary:
		return e.runItinerary(ctx, log, job)
	case models.JobChat:
		return e.runChat(ctx, log, job)
	case models.JobVideo:
		return e.runVideo(ctx, log, job)
	default:
		return e.fail(ctx, log, job, fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

func (e *Executor) runItinerary(ctx context.Context, log *slog.Logger, job *models.GenerationJob) error {
	var req models.ItineraryRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return e.fail(ctx, log, job, ErrInvalidJobRequest.Error())
	}

	env := e.gateway.CreateItinerary(ctx, req)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !env.Success {
		return e.fail(ctx, log, job, env.Error)
	}

	var created gateway.ItineraryCreated
	if err := env.Decode(&created); err != nil {
		return err
	}
	result := created.Itinerary
	if len(result) == 0 {
		result = env.Data
	}

	return e.finish(ctx, log, job, models.JobOutcome{
		Status:      models.JobCompleted,
		Result:      result,
		RemoteJobID: created.ItineraryID,
		Progress:    100,
		ShareSlug:   shareSlug(req.Destination, job.ID),
	})
}

// shareSlug публичный идентификатор маршрута для ссылки.
func shareSlug(destination, jobID string) string {
	suffix := jobID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return slug.Make(destination + " " + suffix)
}

func (e *Executor) runChat(ctx context.Context, log *slog.Logger, job *models.GenerationJob) error {
	var payload models.ChatJobPayload
	if err := json.Unmarshal(job.Request, &payload); err != nil {
		return e.fail(ctx, log, job, ErrInvalidJobRequest.Error())
	}

	history, err := e.chatHistory(ctx, job.SourceJobID)
	if err != nil {
		return err
	}

	env := e.gateway.Chat(ctx, gateway.ChatInput{
		ItineraryID:         payload.ItineraryRemoteID,
		Message:             payload.Message,
		ConversationHistory: history,
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if !env.Success {
		return e.fail(ctx, log, job, env.Error)
	}

	var reply gateway.ChatReply
	if err := env.Decode(&reply); err != nil {
		return err
	}
	if reply.ModificationsMade && len(reply.UpdatedItinerary) > 0 && string(reply.UpdatedItinerary) != "null" {
		if err := e.store.ReplaceJobResult(ctx, job.SourceJobID, reply.UpdatedItinerary); err != nil {
			log.Warn("failed to apply itinerary changes from chat",
				slog.String("itinerary_job_id", job.SourceJobID), sl.Err(err))
		} else {
			log.Info("itinerary updated via chat", slog.String("itinerary_job_id", job.SourceJobID))
		}
	}

	result, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return e.finish(ctx, log, job, models.JobOutcome{
		Status:   models.JobCompleted,
		Result:   result,
		Progress: 100,
	})
}

// chatHistory собирает переписку из завершенных реплик по маршруту.
func (e *Executor) chatHistory(ctx context.Context, itineraryJobID string) ([]gateway.ChatHistoryItem, error) {
	prior, err := e.store.ListChatHistory(ctx, itineraryJobID, chatHistoryLimit)
	if err != nil {
		return nil, err
	}

	history := make([]gateway.ChatHistoryItem, 0, len(prior)*2)
	for _, turn := range prior {
		var req models.ChatJobPayload
		if err := json.Unmarshal(turn.Request, &req); err == nil && req.Message != "" {
			history = append(history, gateway.ChatHistoryItem{Role: "user", Content: req.Message})
		}
		var reply gateway.ChatReply
		if err := json.Unmarshal(turn.Result, &reply); err == nil && reply.Response != "" {
			history = append(history, gateway.ChatHistoryItem{Role: "assistant", Content: reply.Response})
		}
	}
	return history, nil
}

// videoResult результат видео, который хранится в задаче.
type videoResult struct {
	VideoURL    string `json:"video_url"`
	RemoteJobID string `json:"remote_video_id"`
}

func (e *Executor) runVideo(ctx context.Context, log *slog.Logger, job *models.GenerationJob) error {
	var payload models.VideoJobPayload
	if err := json.Unmarshal(job.Request, &payload); err != nil {
		return e.fail(ctx, log, job, ErrInvalidJobRequest.Error())
	}

	remoteID := job.RemoteJobID
	if remoteID == "" {
		env := e.gateway.GenerateVideo(ctx, payload.ItineraryRemoteID, payload.PhotoFilename)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !env.Success {
			return e.fail(ctx, log, job, env.Error)
		}
		var started gateway.VideoStarted
		if err := env.Decode(&started); err != nil {
			return err
		}
		if started.VideoID == "" {
			return errors.New("generation service returned empty video id")
		}

		changed, err := e.store.SetRemoteJob(ctx, job.ID, started.VideoID, models.JobGenerating)
		if err != nil {
			return err
		}
		if !changed {
			log.Info("job finished elsewhere, stop")
			return nil
		}
		remoteID = started.VideoID
		job.RemoteJobID = remoteID
		log.Info("video generation started", slog.String("remote_job_id", remoteID))
	} else {
		log.Info("resuming video polling", slog.String("remote_job_id", remoteID))
	}

	return e.pollVideo(ctx, log, job, remoteID)
}

// pollVideo опрашивает статус с фиксированным интервалом до завершения
// или исчерпания попыток. Прогресс сохраняется на каждом шаге.
func (e *Executor) pollVideo(ctx context.Context, log *slog.Logger, job *models.GenerationJob, remoteID string) error {
	for attempt := 1; attempt <= e.cfg.MaxPollAttempts; attempt++ {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return err
		}

		env := e.gateway.GetVideoStatus(ctx, remoteID)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !env.Success {
			log.Warn("video status poll failed", slog.Int("poll", attempt),
				slog.Int("status_code", env.StatusCode), slog.String("error", env.Error))
			if !e.heartbeat(ctx, log, job.ID) {
				return nil
			}
			continue
		}

		var st gateway.VideoStatus
		if err := env.Decode(&st); err != nil {
			log.Warn("bad video status payload", slog.Int("poll", attempt), sl.Err(err))
			if !e.heartbeat(ctx, log, job.ID) {
				return nil
			}
			continue
		}

		switch st.Status {
		case gateway.RemoteCompleted:
			result, err := json.Marshal(videoResult{VideoURL: st.VideoURL, RemoteJobID: remoteID})
			if err != nil {
				return err
			}
			return e.finish(ctx, log, job, models.JobOutcome{
				Status:      models.JobCompleted,
				Result:      result,
				RemoteJobID: remoteID,
				Progress:    100,
			})
		case gateway.RemoteFailed:
			msg := st.Error
			if msg == "" {
				msg = "Video generation failed"
			}
			return e.fail(ctx, log, job, msg)
		}

		changed, err := e.store.UpdateProgress(ctx, job.ID, models.JobProgress{
			Progress:   st.Progress,
			CurrentDay: st.CurrentDay,
			Stage:      st.Message,
		})
		if err != nil {
			log.Warn("failed to save video progress", sl.Err(err))
			continue
		}
		if !changed {
			log.Info("job finished elsewhere, stop polling")
			return nil
		}
		log.Debug("video progress", slog.Int("poll", attempt), slog.Int("progress", st.Progress))
	}

	return e.fail(ctx, log, job, models.TimedOutMessage)
}

// heartbeat продлевает владение задачей на тике без прогресса, иначе
// сверка сочтет ее зависшей и отправит второму исполнителю. false, если
// задача уже завершена и опрос нужно прекратить.
func (e *Executor) heartbeat(ctx context.Context, log *slog.Logger, jobID string) bool {
	alive, err := e.store.Heartbeat(ctx, jobID)
	if err != nil {
		log.Warn("failed to record poll heartbeat", sl.Err(err))
		return true
	}
	if !alive {
		log.Info("job finished elsewhere, stop polling")
	}
	return alive
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, job *models.GenerationJob, message string) error {
	return e.finish(ctx, log, job, models.JobOutcome{
		Status:       models.JobFailed,
		ErrorMessage: message,
		RemoteJobID:  job.RemoteJobID,
	})
}

// finish переводит задачу в конечное состояние. Учет и синхронизация
// покупки вызываются только если переход действительно произошел.
func (e *Executor) finish(ctx context.Context, log *slog.Logger, job *models.GenerationJob, out models.JobOutcome) error {
	changed, err := e.store.FinishJob(ctx, job.ID, out)
	if err != nil {
		return err
	}
	if !changed {
		log.Info("job already terminal, outcome ignored", slog.String("status", string(out.Status)))
		return nil
	}

	sideCtx := context.WithoutCancel(ctx)
	final := e.terminalJob(sideCtx, log, job, out)
	e.usage.OnTerminal(sideCtx, final)
	e.purchases.Sync(sideCtx, final)

	elapsed := time.Since(job.CreatedAt)
	if out.Status == models.JobCompleted {
		e.metrics.OnComplete(string(job.Kind), elapsed)
		log.Info("job completed")
	} else {
		e.metrics.OnFail(string(job.Kind), elapsed)
		log.Warn("job failed", slog.String("error_message", out.ErrorMessage))
	}
	return nil
}

// terminalJob перечитывает задачу после перехода, при ошибке собирает её
// из локальной копии.
func (e *Executor) terminalJob(ctx context.Context, log *slog.Logger, job *models.GenerationJob, out models.JobOutcome) models.GenerationJob {
	fresh, err := e.store.GetJob(ctx, job.ID)
	if err == nil {
		return *fresh
	}
	log.Warn("failed to reload finished job", sl.Err(err))

	final := *job
	final.Status = out.Status
	final.Result = out.Result
	final.ErrorMessage = out.ErrorMessage
	if out.RemoteJobID != "" {
		final.RemoteJobID = out.RemoteJobID
	}
	now := time.Now()
	final.CompletedAt = &now
	return final
}
