package reallocate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/services/authz"
	"github.com/magabrotheeeer/travel-planner/internal/services/itinerary"
)

type ReallocatorMock struct {
	mock.Mock
}

func (m *ReallocatorMock) ReallocateBudget(ctx context.Context, userID, jobID string, categories []string) (json.RawMessage, error) {
	args := m.Called(ctx, userID, jobID, categories)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestReallocateHandler_ServeHTTP(t *testing.T) {
	categories := []string{"food", "museums"}

	tests := []struct {
		name           string
		body           string
		setupMock      func(m *ReallocatorMock)
		wantStatusCode int
		wantBody       string
	}{
		{
			name: "success",
			body: `{"selected_categories":["food","museums"]}`,
			setupMock: func(m *ReallocatorMock) {
				m.On("ReallocateBudget", mock.Anything, "u-1", "job-1", categories).
					Return(json.RawMessage(`{"budget":{"food":600,"museums":400}}`), nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantBody:       `{"status":"OK","data":{"budget":{"food":600,"museums":400}}}`,
		},
		{
			name:           "empty categories",
			body:           `{"selected_categories":[]}`,
			setupMock:      func(_ *ReallocatorMock) {},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name:           "broken json",
			body:           `{"selected_categories":`,
			setupMock:      func(_ *ReallocatorMock) {},
			wantStatusCode: http.StatusBadRequest,
			wantBody:       `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name: "remote failure",
			body: `{"selected_categories":["food","museums"]}`,
			setupMock: func(m *ReallocatorMock) {
				m.On("ReallocateBudget", mock.Anything, "u-1", "job-1", categories).
					Return(nil, &itinerary.RemoteError{StatusCode: 503, Message: "Could not connect to AI service. Please try again later."}).Once()
			},
			wantStatusCode: http.StatusBadGateway,
			wantBody:       `{"status":"Error","error":"Could not connect to AI service. Please try again later."}`,
		},
		{
			name: "not found",
			body: `{"selected_categories":["food","museums"]}`,
			setupMock: func(m *ReallocatorMock) {
				m.On("ReallocateBudget", mock.Anything, "u-1", "job-1", categories).Return(nil, itinerary.ErrNotFound).Once()
			},
			wantStatusCode: http.StatusNotFound,
			wantBody:       `{"status":"Error","error":"itinerary not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reallocator := new(ReallocatorMock)
			tt.setupMock(reallocator)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/itineraries/job-1/reallocate-budget", bytes.NewBufferString(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "job-1")
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			ctx = middlewarectx.WithPrincipal(ctx, authz.Principal{UserID: "u-1"})
			w := httptest.NewRecorder()

			New(newNoopLogger(), reallocator).ServeHTTP(w, req.WithContext(ctx))

			assert.Equal(t, tt.wantStatusCode, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
			reallocator.AssertExpectations(t)
		})
	}
}
