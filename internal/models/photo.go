package models

import "time"

// UserPhoto загруженное пользователем фото для видео.
type UserPhoto struct {
	ID               string    `json:"id"`
	UserID           string    `json:"-"`
	RemoteFilename   string    `json:"remote_filename"`
	RemoteURL        string    `json:"remote_url"`
	OriginalFilename string    `json:"original_filename"`
	ArchiveKey       string    `json:"archive_key,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
