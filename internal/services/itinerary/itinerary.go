// Package itinerary проксирует запросы к готовым маршрутам и загружает фото
// пользователей в сервис генерации.
package itinerary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/magabrotheeeer/travel-planner/internal/gateway"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

var (
	ErrNotFound = errors.New("itinerary not found")
	ErrNotReady = errors.New("itinerary is not completed yet")
)

// RemoteError неуспешный ответ сервиса генерации.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("generation service %d: %s", e.StatusCode, e.Message)
}

type Store interface {
	GetUserJob(ctx context.Context, userID, jobID string) (*models.GenerationJob, error)
	CreatePhoto(ctx context.Context, p models.UserPhoto) (*models.UserPhoto, error)
	SetPhotoArchiveKey(ctx context.Context, photoID, key string) error
}

type Gateway interface {
	GetItinerary(ctx context.Context, itineraryID string) gateway.Envelope
	ReallocateBudget(ctx context.Context, itineraryID string, categories []string) gateway.Envelope
	UploadPhoto(ctx context.Context, filename string, content io.Reader) gateway.Envelope
}

// Archiver копия загруженных фото во внешнем хранилище.
type Archiver interface {
	Enabled() bool
	Archive(ctx context.Context, userID, originalFilename string, content []byte) (string, error)
}

type Service struct {
	store   Store
	gw      Gateway
	archive Archiver
	log     *slog.Logger
}

func New(store Store, gw Gateway, archive Archiver, log *slog.Logger) *Service {
	return &Service{store: store, gw: gw, archive: archive, log: log}
}

// Get возвращает актуальный маршрут из сервиса генерации по локальному id задачи.
func (s *Service) Get(ctx context.Context, userID, jobID string) (json.RawMessage, error) {
	remoteID, err := s.remoteID(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return unwrap(s.gw.GetItinerary(ctx, remoteID))
}

// ReallocateBudget перераспределяет бюджет маршрута по выбранным категориям.
func (s *Service) ReallocateBudget(ctx context.Context, userID, jobID string, categories []string) (json.RawMessage, error) {
	remoteID, err := s.remoteID(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return unwrap(s.gw.ReallocateBudget(ctx, remoteID, categories))
}

func (s *Service) remoteID(ctx context.Context, userID, jobID string) (string, error) {
	job, err := s.store.GetUserJob(ctx, userID, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("itinerary.remoteID: %w", err)
	}
	if job.Kind != models.JobItinerary {
		return "", ErrNotFound
	}
	if job.Status != models.JobCompleted || job.RemoteJobID == "" {
		return "", ErrNotReady
	}
	return job.RemoteJobID, nil
}

func unwrap(env gateway.Envelope) (json.RawMessage, error) {
	if !env.Success {
		return nil, &RemoteError{StatusCode: env.StatusCode, Message: env.Error}
	}
	return env.Data, nil
}

// UploadPhoto передает фото в сервис генерации и сохраняет запись о нем.
// Копия в архиве делается после сохранения, ее ошибка только логируется.
func (s *Service) UploadPhoto(ctx context.Context, userID, filename string, content []byte) (*models.UserPhoto, error) {
	const op = "itinerary.UploadPhoto"

	env := s.gw.UploadPhoto(ctx, filename, bytes.NewReader(content))
	if !env.Success {
		return nil, &RemoteError{StatusCode: env.StatusCode, Message: env.Error}
	}
	var uploaded gateway.PhotoUploaded
	if err := env.Decode(&uploaded); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	photo, err := s.store.CreatePhoto(ctx, models.UserPhoto{
		UserID:           userID,
		RemoteFilename:   uploaded.Filename,
		RemoteURL:        uploaded.URL,
		OriginalFilename: filename,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.archive.Enabled() {
		s.archivePhoto(ctx, photo, content)
	}
	return photo, nil
}

func (s *Service) archivePhoto(ctx context.Context, photo *models.UserPhoto, content []byte) {
	log := s.log.With(slog.String("photo_id", photo.ID), slog.String("user_id", photo.UserID))

	key, err := s.archive.Archive(ctx, photo.UserID, photo.OriginalFilename, content)
	if err != nil {
		log.Warn("failed to archive photo", sl.Err(err))
		return
	}
	if err := s.store.SetPhotoArchiveKey(ctx, photo.ID, key); err != nil {
		log.Warn("failed to save photo archive key", slog.String("key", key), sl.Err(err))
		return
	}
	photo.ArchiveKey = key
}
