package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type StoreMock struct{ mock.Mock }

func (m *StoreMock) CreateJob(ctx context.Context, job models.GenerationJob, admission *models.Admission) (*models.GenerationJob, error) {
	args := m.Called(ctx, job, admission)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GenerationJob), args.Error(1)
}
func (m *StoreMock) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GenerationJob), args.Error(1)
}
func (m *StoreMock) GetUserJob(ctx context.Context, userID, jobID string) (*models.GenerationJob, error) {
	args := m.Called(ctx, userID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GenerationJob), args.Error(1)
}
func (m *StoreMock) GetUserPhoto(ctx context.Context, userID, photoID string) (*models.UserPhoto, error) {
	args := m.Called(ctx, userID, photoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserPhoto), args.Error(1)
}
func (m *StoreMock) EnsurePurchase(ctx context.Context, p models.PurchaseRecord) (*models.PurchaseRecord, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PurchaseRecord), args.Error(1)
}
func (m *StoreMock) ListStaleJobs(ctx context.Context, pendingBefore, runningBefore time.Time, limit int) ([]models.GenerationJob, error) {
	args := m.Called(ctx, pendingBefore, runningBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GenerationJob), args.Error(1)
}
func (m *StoreMock) TouchJob(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

// executor store
func (m *StoreMock) ClaimAttempt(ctx context.Context, jobID string, expectedAttempts int) (*models.GenerationJob, error) {
	args := m.Called(ctx, jobID, expectedAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GenerationJob), args.Error(1)
}
func (m *StoreMock) SetRemoteJob(ctx context.Context, jobID, remoteJobID string, status models.JobStatus) (bool, error) {
	args := m.Called(ctx, jobID, remoteJobID, status)
	return args.Bool(0), args.Error(1)
}
func (m *StoreMock) UpdateProgress(ctx context.Context, jobID string, p models.JobProgress) (bool, error) {
	args := m.Called(ctx, jobID, p)
	return args.Bool(0), args.Error(1)
}
func (m *StoreMock) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}
func (m *StoreMock) FinishJob(ctx context.Context, jobID string, out models.JobOutcome) (bool, error) {
	args := m.Called(ctx, jobID, out)
	return args.Bool(0), args.Error(1)
}
func (m *StoreMock) ReplaceJobResult(ctx context.Context, jobID string, result json.RawMessage) error {
	return m.Called(ctx, jobID, result).Error(0)
}
func (m *StoreMock) ListChatHistory(ctx context.Context, itineraryJobID string, limit int) ([]models.GenerationJob, error) {
	args := m.Called(ctx, itineraryJobID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GenerationJob), args.Error(1)
}

type EntMock struct{ mock.Mock }

func (m *EntMock) EffectivePlan(ctx context.Context, userID string) (models.EffectivePlan, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.EffectivePlan), args.Error(1)
}
func (m *EntMock) CheckItinerary(ctx context.Context, plan models.EffectivePlan) (entitlement.Decision, error) {
	args := m.Called(ctx, plan)
	return args.Get(0).(entitlement.Decision), args.Error(1)
}
func (m *EntMock) CheckVideo(ctx context.Context, plan models.EffectivePlan, quality models.VideoQuality) (entitlement.Decision, error) {
	args := m.Called(ctx, plan, quality)
	return args.Get(0).(entitlement.Decision), args.Error(1)
}
func (m *EntMock) CheckFeature(plan models.EffectivePlan, feature models.Feature) error {
	return m.Called(plan, feature).Error(0)
}
func (m *EntMock) PaymentRequired(d entitlement.Decision) *entitlement.Error {
	return m.Called(d).Get(0).(*entitlement.Error)
}

type PayMock struct{ mock.Mock }

func (m *PayMock) VerifyVideoPayment(ctx context.Context, userID, reference string) (models.PaymentProof, error) {
	args := m.Called(ctx, userID, reference)
	return args.Get(0).(models.PaymentProof), args.Error(1)
}

type PubMock struct{ mock.Mock }

func (m *PubMock) Publish(ctx context.Context, kind string, message any) error {
	return m.Called(ctx, kind, message).Error(0)
}
func (m *PubMock) PublishRetry(ctx context.Context, kind string, message any) error {
	return m.Called(ctx, kind, message).Error(0)
}

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreateItinerary(ctx context.Context, req models.ItineraryRequest) gateway.Envelope {
	return m.Called(ctx, req).Get(0).(gateway.Envelope)
}
func (m *GatewayMock) Chat(ctx context.Context, in gateway.ChatInput) gateway.Envelope {
	return m.Called(ctx, in).Get(0).(gateway.Envelope)
}
func (m *GatewayMock) GenerateVideo(ctx context.Context, itineraryID, photoFilename string) gateway.Envelope {
	return m.Called(ctx, itineraryID, photoFilename).Get(0).(gateway.Envelope)
}
func (m *GatewayMock) GetVideoStatus(ctx context.Context, videoID string) gateway.Envelope {
	return m.Called(ctx, videoID).Get(0).(gateway.Envelope)
}

type UsageMock struct{ mock.Mock }

func (m *UsageMock) OnTerminal(ctx context.Context, job models.GenerationJob) {
	m.Called(ctx, job)
}

type SyncMock struct{ mock.Mock }

func (m *SyncMock) Sync(ctx context.Context, job models.GenerationJob) {
	m.Called(ctx, job)
}

// hooks считает вызовы хуков метрик.
type hooks struct {
	mu        sync.Mutex
	submitted int
	started   int
	completed int
	failed    int
	retried   int
}

func (h *hooks) inc(n *int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*n++
}

func (h *hooks) OnSubmit(string)                  { h.inc(&h.submitted) }
func (h *hooks) OnStart(string)                   { h.inc(&h.started) }
func (h *hooks) OnComplete(string, time.Duration) { h.inc(&h.completed) }
func (h *hooks) OnFail(string, time.Duration)     { h.inc(&h.failed) }
func (h *hooks) OnRetry(string, time.Duration)    { h.inc(&h.retried) }

func okEnvelope(v any) gateway.Envelope {
	raw, _ := json.Marshal(v)
	return gateway.Envelope{Success: true, Data: raw, StatusCode: 200}
}

func errEnvelope(code int, msg string) gateway.Envelope {
	return gateway.Envelope{Success: false, Error: msg, StatusCode: code}
}
