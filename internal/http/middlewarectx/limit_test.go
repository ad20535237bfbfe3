package middlewarectx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/authz"
)

func TestRateLimitMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	handler := RateLimitMiddleware(NewLimiter(1, 2), logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if userID != "" {
			req = req.WithContext(WithPrincipal(req.Context(), authz.Principal{UserID: userID, Role: models.RoleUser}))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("burst then blocked per user", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request("u-1"))
		assert.Equal(t, http.StatusOK, request("u-1"))
		assert.Equal(t, http.StatusTooManyRequests, request("u-1"))
	})

	t.Run("other users keep their own budget", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request("u-2"))
	})

	t.Run("anonymous keyed by address", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request(""))
		assert.Equal(t, http.StatusOK, request(""))
		assert.Equal(t, http.StatusTooManyRequests, request(""))
	})
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "addr:10.0.0.7", clientKey(req))

	req = req.WithContext(WithPrincipal(req.Context(), authz.Principal{UserID: "u-9"}))
	assert.Equal(t, "user:u-9", clientKey(req))
}
