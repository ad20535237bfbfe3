package models

import (
	"encoding/json"
	"time"
)

// JobKind тип асинхронной задачи генерации.
type JobKind string

const (
	JobItinerary JobKind = "itinerary"
	JobVideo     JobKind = "video"
	JobChat      JobKind = "chat"
)

// JobStatus состояние задачи.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobGenerating JobStatus = "generating" // только для видео
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal сообщает, является ли состояние конечным.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

var jobStatusOrder = map[JobStatus]int{
	JobPending:    0,
	JobProcessing: 1,
	JobGenerating: 2,
	JobCompleted:  3,
	JobFailed:     3,
}

// CanTransition проверяет допустимость перехода для задачи данного типа.
// Переходы монотонны, из конечных состояний выхода нет.
func CanTransition(kind JobKind, from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == JobGenerating && kind != JobVideo {
		return false
	}
	fromRank, ok := jobStatusOrder[from]
	if !ok {
		return false
	}
	toRank, ok := jobStatusOrder[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// TimedOutMessage текст ошибки при исчерпании попыток опроса.
const TimedOutMessage = "Video generation timed out"

// GenerationJob единица асинхронной работы.
type GenerationJob struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Kind         JobKind         `json:"kind"`
	Status       JobStatus       `json:"status"`
	RemoteJobID  string          `json:"remote_job_id,omitempty"` // назначается только после успешного удаленного вызова
	Progress     int             `json:"progress"`
	Stage        string          `json:"stage,omitempty"`
	CurrentDay   int             `json:"current_day,omitempty"`
	TotalDays    int             `json:"total_days,omitempty"`
	Request      json.RawMessage `json:"request,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	PeriodStart  time.Time       `json:"period_start"` // расчетный период, в котором учтена задача

	// поля видео и чата
	SourceJobID      string       `json:"source_job_id,omitempty"` // маршрут, для которого генерируется видео или идет чат
	PhotoID          string       `json:"photo_id,omitempty"`
	Quality          VideoQuality `json:"quality,omitempty"`
	IsFreeQuota      bool         `json:"is_free_quota"`
	IsPaid           bool         `json:"is_paid"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	PurchaseID       string       `json:"purchase_id,omitempty"`

	ShareSlug   string     `json:"share_slug,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobProgress промежуточный прогресс опроса.
type JobProgress struct {
	Progress   int
	CurrentDay int
	Stage      string
}

// JobOutcome результат перехода в конечное состояние.
type JobOutcome struct {
	Status       JobStatus
	Result       json.RawMessage
	ErrorMessage string
	RemoteJobID  string
	Progress     int
	ShareSlug    string
}

// JobMessage сообщение в очереди задач.
type JobMessage struct {
	JobID   string  `json:"job_id"`
	Kind    JobKind `json:"kind"`
	Attempt int     `json:"attempt"`
}

// JobHandle немедленный ответ на постановку задачи.
type JobHandle struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	IsFreeQuota bool      `json:"is_free_quota"`
	IsPaid      bool      `json:"is_paid"`
}

// JobStatusView ответ на запрос статуса задачи.
type JobStatusView struct {
	JobID        string          `json:"job_id"`
	Kind         JobKind         `json:"kind"`
	Status       JobStatus       `json:"status"`
	Progress     *int            `json:"progress,omitempty"`
	Stage        string          `json:"stage,omitempty"`
	CurrentDay   *int            `json:"current_day,omitempty"`
	TotalDays    int             `json:"total_days,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ShareSlug    string          `json:"share_slug,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	IsFreeQuota  bool            `json:"is_free_quota"`
	IsPaid       bool            `json:"is_paid"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// StatusView строит представление статуса: прогресс для незавершенных,
// результат и время завершения для завершенных, ошибку для упавших.
func (j *GenerationJob) StatusView() JobStatusView {
	v := JobStatusView{
		JobID:       j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		IsFreeQuota: j.IsFreeQuota,
		IsPaid:      j.IsPaid,
		CreatedAt:   j.CreatedAt,
	}
	switch j.Status {
	case JobCompleted:
		v.Result = j.Result
		v.ShareSlug = j.ShareSlug
		v.CompletedAt = j.CompletedAt
		progress := j.Progress
		v.Progress = &progress
	case JobFailed:
		v.ErrorMessage = j.ErrorMessage
		v.CompletedAt = j.CompletedAt
	default:
		progress, day := j.Progress, j.CurrentDay
		v.Progress = &progress
		v.Stage = j.Stage
		if j.Kind == JobVideo {
			v.CurrentDay = &day
			v.TotalDays = j.TotalDays
		}
	}
	return v
}

// ItineraryRequest параметры создания маршрута.
type ItineraryRequest struct {
	Destination        string  `json:"destination" validate:"required,max=255"`
	Budget             float64 `json:"budget" validate:"required,gt=0"`
	Duration           int     `json:"duration" validate:"required,min=1,max=30"`
	Travelers          int     `json:"travelers" validate:"required,min=1,max=20"`
	ActivityPreference string  `json:"activity_preference" validate:"required,oneof=relaxed moderate high"`
	IncludeFlights     bool    `json:"include_flights"`
	IncludeHotels      bool    `json:"include_hotels"`
	UserLocation       string  `json:"user_location" validate:"max=255"`
}

// VideoRequest параметры генерации видео.
type VideoRequest struct {
	ItineraryID  string       `json:"itinerary_id" validate:"required,uuid"`
	PhotoID      string       `json:"photo_id" validate:"required,uuid"`
	Quality      VideoQuality `json:"quality" validate:"omitempty,oneof=standard high"`
	PaymentProof string       `json:"payment_proof" validate:"max=255"`
}

// ChatRequest сообщение пользователя по маршруту.
type ChatRequest struct {
	ItineraryID string `json:"itinerary_id" validate:"required,uuid"`
	Message     string `json:"message" validate:"required,max=2000"`
}

// ReallocateBudgetRequest категории для перераспределения бюджета.
type ReallocateBudgetRequest struct {
	SelectedCategories []string `json:"selected_categories" validate:"required,min=1,dive,required"`
}

// ChatTurn реплика в истории переписки.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VideoJobPayload данные задачи видео, сохраняемые при постановке.
type VideoJobPayload struct {
	ItineraryRemoteID string `json:"itinerary_remote_id"`
	PhotoFilename     string `json:"photo_filename"`
}

// ChatJobPayload данные задачи чата.
type ChatJobPayload struct {
	ItineraryRemoteID string `json:"itinerary_remote_id"`
	Message           string `json:"message"`
}
