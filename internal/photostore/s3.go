// Package photostore архивирует загруженные пользователями фото в S3-совместимое хранилище.
package photostore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/magabrotheeeer/travel-planner/internal/config"
)

// PutObjectAPI часть клиента S3, нужная архиву.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store архив фото. Нулевой bucket делает Archive пустой операцией.
type Store struct {
	client PutObjectAPI
	bucket string
}

// New создаёт архив. При пустом cfg.Bucket клиент S3 не создаётся.
func New(ctx context.Context, cfg config.PhotoStorage) (*Store, error) {
	const op = "photostore.New"
	if cfg.Bucket == "" {
		return &Store{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient создаёт архив поверх готового клиента.
func NewWithClient(client PutObjectAPI, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Enabled сообщает, настроен ли bucket.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

// Archive кладёт фото в bucket и возвращает ключ объекта.
// Если архив выключен, возвращает пустой ключ без ошибки.
func (s *Store) Archive(ctx context.Context, userID, originalFilename string, content []byte) (string, error) {
	const op = "photostore.Archive"
	if !s.Enabled() {
		return "", nil
	}

	key := ObjectKey(userID, originalFilename, uuid.NewString())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return key, nil
}

// ObjectKey строит URL-безопасный ключ вида photos/<user>/<id>-<name>.<ext>.
func ObjectKey(userID, originalFilename, id string) string {
	ext := strings.ToLower(path.Ext(originalFilename))
	base := slug.Make(strings.TrimSuffix(path.Base(originalFilename), path.Ext(originalFilename)))
	if base == "" {
		base = "photo"
	}
	if ext == "" {
		ext = ".jpg"
	}
	return path.Join("photos", slug.Make(userID), id+"-"+base+ext)
}
