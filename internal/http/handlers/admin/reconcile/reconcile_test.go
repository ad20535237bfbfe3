package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/travel-planner/internal/services/reconciliation"
)

type BackfillerMock struct {
	mock.Mock
}

func (m *BackfillerMock) Backfill(ctx context.Context) (reconciliation.BackfillReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(reconciliation.BackfillReport), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestReconcileHandler(t *testing.T) {
	tests := []struct {
		name           string
		report         reconciliation.BackfillReport
		err            error
		wantStatusCode int
		wantBody       string
	}{
		{
			name:           "report",
			report:         reconciliation.BackfillReport{Scanned: 5, Linked: 3, Ambiguous: 1, Unmatched: 1},
			wantStatusCode: http.StatusOK,
			wantBody:       `{"status":"OK","data":{"scanned":5,"linked":3,"ambiguous":1,"unmatched":1}}`,
		},
		{
			name:           "failure",
			err:            errors.New("db"),
			wantStatusCode: http.StatusInternalServerError,
			wantBody:       `{"status":"Error","error":"reconciliation failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backfiller := new(BackfillerMock)
			backfiller.On("Backfill", mock.Anything).Return(tt.report, tt.err).Once()
			w := httptest.NewRecorder()

			New(newNoopLogger(), backfiller).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil))

			assert.Equal(t, tt.wantStatusCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
