package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

// CreatePhoto сохраняет запись о загруженном фото.
func (s *Storage) CreatePhoto(ctx context.Context, p models.UserPhoto) (*models.UserPhoto, error) {
	const op = "storage.CreatePhoto"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	query := `INSERT INTO user_photos (user_id, remote_filename, remote_url, original_filename)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, created_at`
	if err := s.DB.QueryRowContext(ctx, query,
		p.UserID, p.RemoteFilename, p.RemoteURL, p.OriginalFilename).Scan(&p.ID, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// GetUserPhoto возвращает фото, только если оно принадлежит пользователю.
func (s *Storage) GetUserPhoto(ctx context.Context, userID, photoID string) (*models.UserPhoto, error) {
	const op = "storage.GetUserPhoto"
	if err := ctxCheck(ctx, op); err != nil {
		return nil, err
	}

	p := &models.UserPhoto{}
	err := s.DB.QueryRowContext(ctx, `SELECT id, user_id, remote_filename, remote_url,
			original_filename, COALESCE(archive_key, ''), created_at
		FROM user_photos WHERE id = $1 AND user_id = $2`, photoID, userID).
		Scan(&p.ID, &p.UserID, &p.RemoteFilename, &p.RemoteURL, &p.OriginalFilename, &p.ArchiveKey, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// SetPhotoArchiveKey запоминает ключ архивной копии фото.
func (s *Storage) SetPhotoArchiveKey(ctx context.Context, photoID, key string) error {
	const op = "storage.SetPhotoArchiveKey"
	if err := ctxCheck(ctx, op); err != nil {
		return err
	}

	if _, err := s.DB.ExecContext(ctx, `UPDATE user_photos SET archive_key = $2 WHERE id = $1`, photoID, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
