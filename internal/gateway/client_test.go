package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return New(config.GenerationService{
		BaseURL:       baseURL,
		Timeout:       timeout,
		HealthTimeout: timeout,
	}, newNoopLogger())
}

func TestClient_CreateItinerary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/create-itinerary", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Lisbon", body["destination"])
		assert.Equal(t, "moderate", body["activity_preference"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"itinerary_id":"it-42","itinerary":{"days":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	env := c.CreateItinerary(context.Background(), models.ItineraryRequest{
		Destination:        "Lisbon",
		Budget:             1500,
		Duration:           3,
		Travelers:          2,
		ActivityPreference: "moderate",
	})

	require.True(t, env.Success, env.String())
	assert.Equal(t, http.StatusOK, env.StatusCode)

	var created ItineraryCreated
	require.NoError(t, env.Decode(&created))
	assert.Equal(t, "it-42", created.ItineraryID)
	assert.JSONEq(t, `{"days":[]}`, string(created.Itinerary))
}

func TestClient_ErrorText(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantError  string
		wantStatus int
	}{
		{
			name:       "detail field",
			status:     http.StatusBadRequest,
			body:       `{"detail":"Destination not supported"}`,
			wantError:  "Destination not supported",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "message field",
			status:     http.StatusUnprocessableEntity,
			body:       `{"message":"Budget too low"}`,
			wantError:  "Budget too low",
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "detail preferred over message",
			status:     http.StatusBadRequest,
			body:       `{"message":"second","detail":"first"}`,
			wantError:  "first",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "whole json body",
			status:     http.StatusInternalServerError,
			body:       `{"code":7}`,
			wantError:  `{"code":7}`,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "plain text body",
			status:     http.StatusBadGateway,
			body:       "upstream exploded",
			wantError:  "upstream exploded",
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			env := newTestClient(srv.URL, time.Second).GetItinerary(context.Background(), "it-1")

			assert.False(t, env.Success)
			assert.Equal(t, tt.wantStatus, env.StatusCode)
			assert.Equal(t, tt.wantError, env.Error)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	env := newTestClient(srv.URL, 50*time.Millisecond).GetVideoStatus(context.Background(), "v-1")

	assert.False(t, env.Success)
	assert.Equal(t, http.StatusGatewayTimeout, env.StatusCode)
	assert.Equal(t, TimeoutMessage, env.Error)
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	env := newTestClient("http://"+addr, time.Second).GenerateVideo(context.Background(), "it-1", "me.jpg")

	assert.False(t, env.Success)
	assert.Equal(t, http.StatusServiceUnavailable, env.StatusCode)
	assert.Equal(t, UnavailableMessage, env.Error)
}

func TestClient_UploadPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload-photo", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "me.jpg", header.Filename)
		assert.Equal(t, "jpeg-bytes", string(content))

		_, _ = w.Write([]byte(`{"filename":"abc_me.jpg","url":"/uploads/abc_me.jpg"}`))
	}))
	defer srv.Close()

	env := newTestClient(srv.URL, time.Second).UploadPhoto(context.Background(), "me.jpg", strings.NewReader("jpeg-bytes"))
	require.True(t, env.Success, env.String())

	var uploaded PhotoUploaded
	require.NoError(t, env.Decode(&uploaded))
	assert.Equal(t, "abc_me.jpg", uploaded.Filename)
	assert.Equal(t, "/uploads/abc_me.jpg", uploaded.URL)
}

func TestClient_ChatSendsEmptyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `[]`, string(body["conversation_history"]))
		_, _ = w.Write([]byte(`{"response":"Sure","modifications_made":false}`))
	}))
	defer srv.Close()

	env := newTestClient(srv.URL, time.Second).Chat(context.Background(), ChatInput{ItineraryID: "it-1", Message: "hi"})
	require.True(t, env.Success)

	var reply ChatReply
	require.NoError(t, env.Decode(&reply))
	assert.Equal(t, "Sure", reply.Response)
	assert.False(t, reply.ModificationsMade)
}

func TestClient_NonJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain ok"))
	}))
	defer srv.Close()

	env := newTestClient(srv.URL, time.Second).GetItinerary(context.Background(), "it-1")
	require.True(t, env.Success)

	var text string
	require.NoError(t, env.Decode(&text))
	assert.Equal(t, "plain ok", text)
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	env := newTestClient(srv.URL, time.Second).Health(context.Background())
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusNotFound, env.StatusCode)
}
