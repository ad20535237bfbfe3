// Package gateway клиент удаленного сервиса генерации маршрутов, чата и видео.
// Каждый вызов возвращает Envelope: таймаут и отказ соединения отображаются
// в коды 504 и 503, чтобы вызывающий различал медленный и недоступный сервис.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/magabrotheeeer/travel-planner/internal/config"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
)

type Client struct {
	baseURL       string
	timeout       time.Duration
	healthTimeout time.Duration
	httpClient    *http.Client
	log           *slog.Logger
}

// New создаёт клиент сервиса генерации.
func New(cfg config.GenerationService, log *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		httpClient:    &http.Client{},
		log:           log,
	}
}

// CreateItinerary запрашивает генерацию маршрута.
func (c *Client) CreateItinerary(ctx context.Context, req models.ItineraryRequest) Envelope {
	return c.doJSON(ctx, http.MethodPost, "/api/create-itinerary", req, c.timeout)
}

// GetItinerary возвращает маршрут по удаленному ID.
func (c *Client) GetItinerary(ctx context.Context, itineraryID string) Envelope {
	return c.doJSON(ctx, http.MethodGet, "/api/itinerary/"+url.PathEscape(itineraryID), nil, c.timeout)
}

// ReallocateBudget перераспределяет бюджет маршрута на выбранные категории.
func (c *Client) ReallocateBudget(ctx context.Context, itineraryID string, categories []string) Envelope {
	body := map[string]any{
		"itinerary_id":        itineraryID,
		"selected_categories": categories,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/reallocate-budget", body, c.timeout)
}

// Chat отправляет реплику пользователя.
func (c *Client) Chat(ctx context.Context, in ChatInput) Envelope {
	if in.ConversationHistory == nil {
		in.ConversationHistory = []ChatHistoryItem{}
	}
	return c.doJSON(ctx, http.MethodPost, "/api/chat", in, c.timeout)
}

// UploadPhoto загружает фото пользователя multipart-формой с полем file.
func (c *Client) UploadPhoto(ctx context.Context, filename string, content io.Reader) Envelope {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return internalError(err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return internalError(err)
	}
	if err := w.Close(); err != nil {
		return internalError(err)
	}
	return c.do(ctx, http.MethodPost, "/api/upload-photo", &buf, w.FormDataContentType(), c.timeout)
}

// GenerateVideo запускает генерацию видео по маршруту и фото.
func (c *Client) GenerateVideo(ctx context.Context, itineraryID, photoFilename string) Envelope {
	body := map[string]string{
		"itinerary_id":        itineraryID,
		"user_photo_filename": photoFilename,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/generate-video", body, c.timeout)
}

// GetVideoStatus возвращает прогресс генерации видео.
func (c *Client) GetVideoStatus(ctx context.Context, videoID string) Envelope {
	return c.doJSON(ctx, http.MethodGet, "/api/video-status/"+url.PathEscape(videoID), nil, c.timeout)
}

// Health проверяет доступность сервиса с коротким таймаутом. Любой ответ
// сервиса считается признаком доступности.
func (c *Client) Health(ctx context.Context) Envelope {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return internalError(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	data, _ := json.Marshal(map[string]string{"status": "healthy"})
	return Envelope{Success: true, Data: data, StatusCode: resp.StatusCode}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, timeout time.Duration) Envelope {
	var reader io.Reader
	contentType := ""
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return internalError(err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, reader, contentType, timeout)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, timeout time.Duration) Envelope {
	log := c.log.With(slog.String("method", method), slog.String("path", path))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return internalError(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		env := transportError(err)
		log.Error("generation service request failed", slog.Int("status_code", env.StatusCode), sl.Err(err))
		return env
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		env := transportError(err)
		log.Error("failed to read generation service response", sl.Err(err))
		return env
	}
	log.Debug("generation service response", slog.Int("status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !json.Valid(raw) {
			// не-JSON тело передается как строка
			raw, _ = json.Marshal(string(raw))
		}
		return Envelope{Success: true, Data: raw, StatusCode: resp.StatusCode}
	}

	env := Envelope{Success: false, Error: errorText(raw), StatusCode: resp.StatusCode}
	if json.Valid(raw) {
		env.Data = raw
	}
	log.Warn("generation service returned error", slog.Int("status_code", resp.StatusCode), slog.String("error", env.Error))
	return env
}

// errorText достает текст ошибки: detail, затем message, затем тело целиком.
func errorText(raw []byte) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, key := range []string{"detail", "message"} {
		v, ok := body[key]
		if !ok || string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		return string(v)
	}
	return string(raw)
}

func transportError(err error) Envelope {
	switch {
	case isTimeout(err):
		return Envelope{Success: false, Error: TimeoutMessage, StatusCode: http.StatusGatewayTimeout}
	case isConnectionError(err):
		return Envelope{Success: false, Error: UnavailableMessage, StatusCode: http.StatusServiceUnavailable}
	default:
		return internalError(err)
	}
}

func internalError(err error) Envelope {
	return Envelope{Success: false, Error: err.Error(), StatusCode: http.StatusInternalServerError}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// String для логов и отладки.
func (e Envelope) String() string {
	if e.Success {
		return fmt.Sprintf("success status=%d", e.StatusCode)
	}
	return fmt.Sprintf("error status=%d: %s", e.StatusCode, e.Error)
}
