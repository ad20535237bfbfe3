package checkout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/authz"
)

type CreatorMock struct {
	mock.Mock
}

func (m *CreatorMock) CreateVideoCheckout(ctx context.Context, userID string, quality models.VideoQuality) (models.CheckoutSession, error) {
	args := m.Called(ctx, userID, quality)
	return args.Get(0).(models.CheckoutSession), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestCheckoutHandler_ServeHTTP(t *testing.T) {
	sess := models.CheckoutSession{
		SessionID: "cs_test_1",
		URL:       "https://checkout.stripe.com/c/pay/cs_test_1",
		Amount:    decimal.RequireFromString("5.99"),
		Currency:  "EUR",
	}

	tests := []struct {
		name           string
		body           string
		setupMock      func(m *CreatorMock)
		wantStatusCode int
		wantBody       string
	}{
		{
			name: "empty body defaults to standard",
			body: "",
			setupMock: func(m *CreatorMock) {
				m.On("CreateVideoCheckout", mock.Anything, "u-1", models.QualityStandard).Return(sess, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantBody: `{"status":"OK","data":{"session_id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1",` +
				`"amount":"5.99","currency":"EUR"}}`,
		},
		{
			name: "high quality",
			body: `{"quality":"high"}`,
			setupMock: func(m *CreatorMock) {
				m.On("CreateVideoCheckout", mock.Anything, "u-1", models.QualityHigh).Return(sess, nil).Once()
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "unknown quality",
			body:           `{"quality":"ultra"}`,
			setupMock:      func(_ *CreatorMock) {},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantBody:       `{"status":"Error","error":"field Quality must be one of: standard high"}`,
		},
		{
			name: "provider failure",
			body: `{}`,
			setupMock: func(m *CreatorMock) {
				m.On("CreateVideoCheckout", mock.Anything, "u-1", models.QualityStandard).
					Return(models.CheckoutSession{}, errors.New("stripe down")).Once()
			},
			wantStatusCode: http.StatusBadGateway,
			wantBody:       `{"status":"Error","error":"failed to create checkout session"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creator := new(CreatorMock)
			tt.setupMock(creator)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout/video", bytes.NewBufferString(tt.body))
			req = req.WithContext(middlewarectx.WithPrincipal(req.Context(), authz.Principal{UserID: "u-1"}))
			w := httptest.NewRecorder()

			New(newNoopLogger(), creator).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatusCode, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
			creator.AssertExpectations(t)
		})
	}
}
