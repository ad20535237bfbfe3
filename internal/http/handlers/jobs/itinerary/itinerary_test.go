package itinerary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/authz"
	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
)

type SubmitterMock struct {
	mock.Mock
}

func (m *SubmitterMock) SubmitItinerary(ctx context.Context, userID string, req models.ItineraryRequest) (models.JobHandle, error) {
	args := m.Called(ctx, userID, req)
	return args.Get(0).(models.JobHandle), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestItineraryHandler_ServeHTTP(t *testing.T) {
	valid := models.ItineraryRequest{
		Destination:        "Lisbon",
		Budget:             1500,
		Duration:           5,
		Travelers:          2,
		ActivityPreference: "moderate",
	}
	handle := models.JobHandle{JobID: "job-1", Kind: models.JobItinerary, Status: models.JobPending}

	tests := []struct {
		name           string
		body           any
		anonymous      bool
		setupMock      func(m *SubmitterMock)
		wantStatusCode int
		wantBody       string
	}{
		{
			name: "accepted",
			body: valid,
			setupMock: func(m *SubmitterMock) {
				m.On("SubmitItinerary", mock.Anything, "u-1", valid).Return(handle, nil).Once()
			},
			wantStatusCode: http.StatusAccepted,
			wantBody:       `{"status":"OK","data":{"job_id":"job-1","kind":"itinerary","status":"pending","is_free_quota":false,"is_paid":false}}`,
		},
		{
			name: "limit reached",
			body: valid,
			setupMock: func(m *SubmitterMock) {
				m.On("SubmitItinerary", mock.Anything, "u-1", valid).
					Return(models.JobHandle{}, entitlement.LimitReached(3, 3)).Once()
			},
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "bad activity preference",
			body:           models.ItineraryRequest{Destination: "Lisbon", Budget: 100, Duration: 2, Travelers: 1, ActivityPreference: "extreme"},
			setupMock:      func(_ *SubmitterMock) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantBody:       `{"status":"Error","error":"field ActivityPreference must be one of: relaxed moderate high"}`,
		},
		{
			name:           "anonymous",
			body:           valid,
			anonymous:      true,
			setupMock:      func(_ *SubmitterMock) {},
			wantStatusCode: http.StatusUnauthorized,
			wantBody:       `{"status":"Error","error":"unauthorized"}`,
		},
		{
			name: "internal error",
			body: valid,
			setupMock: func(m *SubmitterMock) {
				m.On("SubmitItinerary", mock.Anything, "u-1", valid).Return(models.JobHandle{}, errors.New("db")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
			wantBody:       `{"status":"Error","error":"failed to submit itinerary"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := new(SubmitterMock)
			tt.setupMock(submitter)

			body, err := json.Marshal(tt.body)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/itineraries", bytes.NewReader(body))
			ctx := context.WithValue(req.Context(), middleware.RequestIDKey, "req-id")
			if !tt.anonymous {
				ctx = middlewarectx.WithPrincipal(ctx, authz.Principal{UserID: "u-1", Role: models.RoleUser})
			}
			w := httptest.NewRecorder()

			New(newNoopLogger(), submitter).ServeHTTP(w, req.WithContext(ctx))

			assert.Equal(t, tt.wantStatusCode, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
			submitter.AssertExpectations(t)
		})
	}
}

func TestItineraryHandler_LimitPayload(t *testing.T) {
	submitter := new(SubmitterMock)
	submitter.On("SubmitItinerary", mock.Anything, "u-1", mock.Anything).
		Return(models.JobHandle{}, entitlement.LimitReached(3, 3)).Once()

	body, _ := json.Marshal(models.ItineraryRequest{Destination: "Rome", Budget: 10, Duration: 1, Travelers: 1, ActivityPreference: "relaxed"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/itineraries", bytes.NewReader(body))
	req = req.WithContext(middlewarectx.WithPrincipal(req.Context(), authz.Principal{UserID: "u-1"}))
	w := httptest.NewRecorder()

	New(newNoopLogger(), submitter).ServeHTTP(w, req)

	var resp struct {
		Code string `json:"code"`
		Data struct {
			Used       int    `json:"used"`
			Limit      int    `json:"limit"`
			UpgradeURL string `json:"upgrade_url"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "limit_reached", resp.Code)
	assert.Equal(t, 3, resp.Data.Used)
	assert.Equal(t, 3, resp.Data.Limit)
	assert.Equal(t, "/pricing", resp.Data.UpgradeURL)
}
