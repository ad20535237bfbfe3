// Package upload принимает фото пользователя для видео по маршруту.
package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/travel-planner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/travel-planner/internal/http/response"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/itinerary"
)

// MaxPhotoSize предельный размер загружаемого файла.
const MaxPhotoSize = 10 << 20

type Uploader interface {
	UploadPhoto(ctx context.Context, userID, filename string, content []byte) (*models.UserPhoto, error)
}

type Handler struct {
	log      *slog.Logger
	uploader Uploader
}

func New(log *slog.Logger, uploader Uploader) *Handler {
	return &Handler{
		log:      log,
		uploader: uploader,
	}
}

// ServeHTTP godoc
// @Summary Загрузить фото
// @Tags Photos
// @Accept  multipart/form-data
// @Produce  json
// @Security BearerAuth
// @Param photo formData file true "Изображение до 10 МБ"
// @Success 201 {object} response.OKResponse{data=models.UserPhoto}
// @Failure 400 {object} response.ErrorResponse
// @Failure 413 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /photos [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.photo.upload"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	principal, ok := middlewarectx.PrincipalFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxPhotoSize+1<<20)
	file, header, err := r.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			render.JSON(w, r, response.Error("photo is too large"))
			return
		}
		log.Info("photo field missing", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("photo file is required"))
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(io.LimitReader(file, MaxPhotoSize+1))
	if err != nil {
		log.Error("failed to read photo", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read photo"))
		return
	}
	if len(content) > MaxPhotoSize {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		render.JSON(w, r, response.Error("photo is too large"))
		return
	}
	if !strings.HasPrefix(http.DetectContentType(content), "image/") {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("file is not an image"))
		return
	}

	photo, err := h.uploader.UploadPhoto(r.Context(), principal.UserID, header.Filename, content)
	var remote *itinerary.RemoteError
	if errors.As(err, &remote) {
		log.Warn("generation service rejected photo", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error(remote.Message))
		return
	}
	if err != nil {
		log.Error("failed to upload photo", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to upload photo"))
		return
	}

	log.Info("photo uploaded", slog.String("photo_id", photo.ID))
	w.WriteHeader(http.StatusCreated)
	render.JSON(w, r, response.OKWithData(photo))
}
