package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

var (
	testUserID  = "7c1d5e8a-3b0a-4c53-9e55-0d7f2f1c0001"
	testJobID   = "7c1d5e8a-3b0a-4c53-9e55-0d7f2f1c0002"
	periodStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Storage{DB: db}, mock
}

var jobRowColumns = []string{
	"id", "user_id", "kind", "status", "remote_job_id", "progress", "stage",
	"current_day", "total_days", "request", "result", "error_message", "attempts", "period_start",
	"source_job_id", "photo_id", "quality", "is_free_quota", "is_paid", "payment_reference",
	"purchase_id", "share_slug", "created_at", "updated_at", "completed_at",
}

func jobRow(status models.JobStatus, attempts int) *sqlmock.Rows {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(jobRowColumns).AddRow(
		testJobID, testUserID, "itinerary", string(status), "", 0, "",
		0, 0, []byte(`{"destination":"Lisbon"}`), nil, "", attempts, periodStart,
		"", "", "", false, false, "",
		"", "", now, now, nil,
	)
}

func TestStorage_CreateJob(t *testing.T) {
	admission := &models.Admission{
		Kind:   models.QuotaItinerary,
		Limit:  1,
		Period: models.BillingPeriod{Start: periodStart, End: periodStart.AddDate(0, 1, 0)},
	}
	job := models.GenerationJob{
		UserID:      testUserID,
		Kind:        models.JobItinerary,
		Request:     json.RawMessage(`{"destination":"Lisbon"}`),
		PeriodStart: periodStart,
	}

	tests := []struct {
		name       string
		admission  *models.Admission
		job        models.GenerationJob
		setupMocks func(mock sqlmock.Sqlmock)
		wantErr    error
	}{
		{
			name:      "slot admitted and job created",
			admission: admission,
			job:       job,
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO quota_counters`)).
					WithArgs(testUserID, periodStart, "itinerary", 1).
					WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(1))
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO generation_jobs`)).
					WillReturnRows(jobRow(models.JobPending, 0))
				mock.ExpectCommit()
			},
		},
		{
			name:      "quota exhausted creates nothing",
			admission: admission,
			job:       job,
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO quota_counters`)).
					WillReturnRows(sqlmock.NewRows([]string{"used"}))
				mock.ExpectRollback()
			},
			wantErr: storage.ErrQuotaExhausted,
		},
		{
			name: "unlimited admission only counts",
			admission: &models.Admission{
				Kind:   models.QuotaItinerary,
				Limit:  models.Unlimited,
				Period: admission.Period,
			},
			job: job,
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO quota_counters`)).
					WithArgs(testUserID, periodStart, "itinerary").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO generation_jobs`)).
					WillReturnRows(jobRow(models.JobPending, 0))
				mock.ExpectCommit()
			},
		},
		{
			name: "reused payment reference",
			job: models.GenerationJob{
				UserID:           testUserID,
				Kind:             models.JobVideo,
				IsPaid:           true,
				PaymentReference: "cs_test_1",
				PeriodStart:      periodStart,
			},
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO generation_jobs`)).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
				mock.ExpectRollback()
			},
			wantErr: storage.ErrPaymentReferenceUsed,
		},
		{
			name: "purchase linked in the same transaction",
			job: models.GenerationJob{
				UserID:           testUserID,
				Kind:             models.JobVideo,
				IsPaid:           true,
				PaymentReference: "cs_test_2",
				PurchaseID:       "purchase-1",
				PeriodStart:      periodStart,
			},
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO generation_jobs`)).
					WillReturnRows(jobRow(models.JobPending, 0))
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE purchases SET job_id`)).
					WithArgs(testJobID, "purchase-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			tt.setupMocks(mock)

			got, err := s.CreateJob(context.Background(), tt.job, tt.admission)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, testJobID, got.ID)
				assert.Equal(t, models.JobPending, got.Status)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_FinishJob_TerminalGuard(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		wantChanged bool
	}{
		{name: "first terminal transition", affected: 1, wantChanged: true},
		{name: "already terminal", affected: 0, wantChanged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec(`(?s)UPDATE generation_jobs\s+SET status = \$2.*WHERE id = \$1 AND status NOT IN \('completed', 'failed'\)`).
				WithArgs(testJobID, "failed", nil, models.TimedOutMessage, nil, 0, nil).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			changed, err := s.FinishJob(context.Background(), testJobID, models.JobOutcome{
				Status:       models.JobFailed,
				ErrorMessage: models.TimedOutMessage,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_Heartbeat(t *testing.T) {
	tests := []struct {
		name      string
		affected  int64
		wantAlive bool
	}{
		{name: "running job", affected: 1, wantAlive: true},
		{name: "terminal job", affected: 0, wantAlive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec(`(?s)UPDATE generation_jobs SET updated_at = NOW\(\).*WHERE id = \$1 AND status NOT IN \('completed', 'failed'\)`).
				WithArgs(testJobID).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			alive, err := s.Heartbeat(context.Background(), testJobID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlive, alive)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_ListUnlinkedPaidJobs_RotatesAttempted(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(`(?s)FROM generation_jobs.*purchase_id IS NULL.*ORDER BY link_attempted_at NULLS FIRST, created_at`).
		WithArgs(100).
		WillReturnRows(jobRow(models.JobCompleted, 1))

	jobs, err := s.ListUnlinkedPaidJobs(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE generation_jobs SET link_attempted_at = NOW() WHERE id = $1`)).
		WithArgs(testJobID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkLinkAttempt(context.Background(), testJobID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_FinishJob_RejectsNonTerminal(t *testing.T) {
	s, mock := newMockStorage(t)

	_, err := s.FinishJob(context.Background(), testJobID, models.JobOutcome{Status: models.JobProcessing})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ClaimAttempt(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(mock sqlmock.Sqlmock)
		wantErr    error
		wantStatus models.JobStatus
	}{
		{
			name: "pending job claimed",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`UPDATE generation_jobs`)).
					WithArgs(testJobID, 0).
					WillReturnRows(jobRow(models.JobProcessing, 1))
			},
			wantStatus: models.JobProcessing,
		},
		{
			name: "terminal job",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`UPDATE generation_jobs`)).
					WithArgs(testJobID, 0).
					WillReturnRows(sqlmock.NewRows(jobRowColumns))
				mock.ExpectQuery(regexp.QuoteMeta(`FROM generation_jobs WHERE id = $1`)).
					WithArgs(testJobID).
					WillReturnRows(jobRow(models.JobCompleted, 1))
			},
			wantErr:    storage.ErrJobTerminal,
			wantStatus: models.JobCompleted,
		},
		{
			name: "duplicate delivery",
			setupMocks: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`UPDATE generation_jobs`)).
					WithArgs(testJobID, 0).
					WillReturnRows(sqlmock.NewRows(jobRowColumns))
				mock.ExpectQuery(regexp.QuoteMeta(`FROM generation_jobs WHERE id = $1`)).
					WithArgs(testJobID).
					WillReturnRows(jobRow(models.JobProcessing, 1))
			},
			wantErr:    storage.ErrJobClaimed,
			wantStatus: models.JobProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			tt.setupMocks(mock)

			job, err := s.ClaimAttempt(context.Background(), testJobID, 0)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, job)
			assert.Equal(t, tt.wantStatus, job.Status)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_RecordUsage_Idempotent(t *testing.T) {
	ev := models.UsageEvent{
		JobID:         testJobID,
		UserID:        testUserID,
		Kind:          models.JobVideo,
		Period:        models.BillingPeriod{Start: periodStart, End: periodStart.AddDate(0, 1, 0)},
		IsFreeQuota:   true,
		FreeAllowance: 5,
	}

	t.Run("first record updates counters", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_events`)).
			WithArgs(testJobID, testUserID, "video", periodStart, true, false).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_tracking`)).
			WithArgs(testUserID, periodStart, ev.Period.End, 0, 1, 1, 0, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		recorded, err := s.RecordUsage(context.Background(), ev)
		require.NoError(t, err)
		assert.True(t, recorded)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay does not touch counters", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_events`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		recorded, err := s.RecordUsage(context.Background(), ev)
		require.NoError(t, err)
		assert.False(t, recorded)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_RecordUsage_ItineraryFirstSeedsFreeVideos(t *testing.T) {
	ev := models.UsageEvent{
		JobID:         testJobID,
		UserID:        testUserID,
		Kind:          models.JobItinerary,
		Period:        models.BillingPeriod{Start: periodStart, End: periodStart.AddDate(0, 1, 0)},
		FreeAllowance: 5,
	}

	s, mock := newMockStorage(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_events`)).
		WithArgs(testJobID, testUserID, "itinerary", periodStart, false, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// остаток бесплатных видео засевается из тарифа, а не нулем
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_tracking`)).
		WithArgs(testUserID, periodStart, ev.Period.End, 1, 0, 0, 0, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recorded, err := s.RecordUsage(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, recorded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetUsageCounters_Empty(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM usage_tracking`)).
		WithArgs(testUserID, periodStart).
		WillReturnError(sql.ErrNoRows)

	got, err := s.GetUsageCounters(context.Background(), testUserID, periodStart)
	require.NoError(t, err)
	assert.Equal(t, models.UsageCounters{}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_EnsurePurchase(t *testing.T) {
	s, mock := newMockStorage(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO purchases`)).
		WithArgs(testUserID, "cs_test_1", "standard", "5.99", "EUR").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "job_id", "payment_reference", "quality",
			"amount", "currency", "status", "result_url", "created_at", "updated_at",
		}).AddRow("purchase-1", testUserID, "", "cs_test_1", "standard",
			"5.99", "EUR", "pending", "", now, now))

	got, err := s.EnsurePurchase(context.Background(), models.PurchaseRecord{
		UserID:           testUserID,
		PaymentReference: "cs_test_1",
		Amount:           decimal.RequireFromString("5.99"),
		Currency:         "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "purchase-1", got.ID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("5.99")))
	assert.Equal(t, models.PurchasePending, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_UpdatePurchaseStatus_NotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE purchases`)).
		WithArgs("missing", "completed", "https://cdn/video.mp4").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdatePurchaseStatus(context.Background(), "missing", models.PurchaseCompleted, "https://cdn/video.mp4")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_BeginWebhookEvent(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantNew bool
	}{
		{name: "new event", rows: sqlmock.NewRows([]string{"id"}).AddRow("evt-row-1"), wantNew: true},
		{name: "duplicate event", rows: sqlmock.NewRows([]string{"id"}), wantNew: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
				WithArgs("evt_1", "customer.subscription.updated").
				WillReturnRows(tt.rows)

			isNew, err := s.BeginWebhookEvent(context.Background(), "evt_1", "customer.subscription.updated")
			require.NoError(t, err)
			assert.Equal(t, tt.wantNew, isNew)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_RegisterUser_Duplicate(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("a@b.c", "alice", "hash", "user").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})

	_, err := s.RegisterUser(context.Background(), models.User{Email: "a@b.c", Username: "alice", PasswordHash: "hash"})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetSubscription_NotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM subscriptions WHERE user_id = $1`)).
		WithArgs(testUserID).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetSubscription(context.Background(), testUserID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_CancelledContext(t *testing.T) {
	s, mock := newMockStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetJob(ctx, testJobID)
	require.True(t, errors.Is(err, context.Canceled))
	require.NoError(t, mock.ExpectationsWereMet())
}
