package health

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

	"github.com/magabrotheeeer/travel-planner/internal/gateway"
)

type PingerMock struct {
	mock.Mock
}

func (m *PingerMock) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type GatewayMock struct {
	mock.Mock
}

func (m *GatewayMock) Health(ctx context.Context) gateway.Envelope {
	return m.Called(ctx).Get(0).(gateway.Envelope)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		dbErr          error
		env            gateway.Envelope
		wantStatusCode int
		wantBody       string
	}{
		{
			name:           "all healthy",
			env:            gateway.Envelope{Success: true, StatusCode: 200},
			wantStatusCode: http.StatusOK,
			wantBody:       `{"status":"OK","data":{"status":"ok","database":"ok","generation_service":"ok"}}`,
		},
		{
			name:           "generation service down",
			env:            gateway.Envelope{Success: false, Error: gateway.UnavailableMessage, StatusCode: 503},
			wantStatusCode: http.StatusOK,
			wantBody:       `{"status":"OK","data":{"status":"degraded","database":"ok","generation_service":"unreachable"}}`,
		},
		{
			name:           "database down",
			dbErr:          errors.New("connection refused"),
			wantStatusCode: http.StatusServiceUnavailable,
			wantBody:       `{"status":"Error","error":"database is unreachable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(PingerMock)
			db.On("Ping", mock.Anything).Return(tt.dbErr).Once()
			gw := new(GatewayMock)
			gw.On("Health", mock.Anything).Return(tt.env).Maybe()
			w := httptest.NewRecorder()

			New(newNoopLogger(), db, gw).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatusCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
