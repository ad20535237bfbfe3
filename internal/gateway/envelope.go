package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Сообщения синтетических ошибок транспорта.
const (
	TimeoutMessage     = "Request timed out. The AI service is taking too long."
	UnavailableMessage = "Could not connect to AI service. Please try again later."
)

// Envelope единый ответ на любой вызов сервиса генерации.
type Envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"status_code"`
}

// Decode разбирает Data успешного ответа в dst.
func (e Envelope) Decode(dst any) error {
	if !e.Success {
		return errors.New(e.Error)
	}
	if len(e.Data) == 0 {
		return errors.New("gateway: empty response data")
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// ItineraryCreated ответ на создание маршрута.
type ItineraryCreated struct {
	ItineraryID string          `json:"itinerary_id"`
	Itinerary   json.RawMessage `json:"itinerary"`
}

// ChatInput реплика пользователя с историей переписки.
type ChatInput struct {
	ItineraryID         string            `json:"itinerary_id"`
	Message             string            `json:"message"`
	ConversationHistory []ChatHistoryItem `json:"conversation_history"`
}

type ChatHistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatReply ответ ассистента.
type ChatReply struct {
	Response          string          `json:"response"`
	ModificationsMade bool            `json:"modifications_made"`
	UpdatedItinerary  json.RawMessage `json:"updated_itinerary,omitempty"`
}

// PhotoUploaded загруженное фото на стороне сервиса генерации.
type PhotoUploaded struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// VideoStarted ответ на запуск генерации видео.
type VideoStarted struct {
	VideoID string `json:"video_id"`
}

// Удаленные статусы генерации видео.
const (
	RemoteCompleted = "completed"
	RemoteFailed    = "failed"
)

// VideoStatus состояние удаленной генерации видео.
type VideoStatus struct {
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	CurrentDay int    `json:"current_day"`
	Message    string `json:"message"`
	VideoURL   string `json:"video_url"`
	Error      string `json:"error"`
}
