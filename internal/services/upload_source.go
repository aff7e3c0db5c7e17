package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/pkg/validation"
)

// UploadSource is an imageset.ImageSource backed by the files of a multipart
// upload. Files are staged on Pick so nothing touches disk when the request
// is rejected before the source is consulted.
type UploadSource struct {
	draftID uuid.UUID
	files   []*multipart.FileHeader
	storage *StorageService
	maxSize int64
}

func NewUploadSource(draftID uuid.UUID, files []*multipart.FileHeader, storage *StorageService, maxSize int64) *UploadSource {
	return &UploadSource{draftID: draftID, files: files, storage: storage, maxSize: maxSize}
}

func (u *UploadSource) Pick(ctx context.Context, req imageset.PickRequest) (imageset.PickResult, error) {
	if len(u.files) == 0 {
		return imageset.PickResult{Outcome: imageset.OutcomeCancelled}, nil
	}

	files := u.files
	if req.MaxCount > 0 && len(files) > req.MaxCount {
		log.Ctx(ctx).Info().
			Int("uploaded", len(files)).
			Int("accepted", req.MaxCount).
			Msg("more files than free slots, extra files ignored")
		files = files[:req.MaxCount]
	}

	assets := make([]imageset.Asset, 0, len(files))
	for _, fh := range files {
		if err := ctx.Err(); err != nil {
			u.cleanup(assets)
			return imageset.PickResult{}, err
		}
		asset, err := u.stage(ctx, fh)
		if err != nil {
			u.cleanup(assets)
			return imageset.PickResult{Outcome: imageset.OutcomeError, Message: err.Error()}, nil
		}
		assets = append(assets, asset)
	}

	return imageset.PickResult{Outcome: imageset.OutcomeSelected, Assets: assets}, nil
}

func (u *UploadSource) stage(ctx context.Context, fh *multipart.FileHeader) (imageset.Asset, error) {
	if !validation.AllowedImageExtension(fh.Filename) {
		return imageset.Asset{}, fmt.Errorf("%s: unsupported file type", fh.Filename)
	}
	if u.maxSize > 0 && fh.Size > u.maxSize {
		return imageset.Asset{}, fmt.Errorf("%s: file too large (max %d bytes)", fh.Filename, u.maxSize)
	}

	f, err := fh.Open()
	if err != nil {
		return imageset.Asset{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return imageset.Asset{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	if !validation.AllowedImageMIME(mt.String()) {
		return imageset.Asset{}, fmt.Errorf("%s: content is %s, not an image", fh.Filename, mt.String())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return imageset.Asset{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}

	key := u.storage.BuildStagingKey(u.draftID, fh.Filename)
	if _, _, err := u.storage.SaveStream(ctx, key, f); err != nil {
		return imageset.Asset{}, fmt.Errorf("%s: %w", fh.Filename, err)
	}

	mimeType := mt.String()
	name := fh.Filename
	return imageset.Asset{URI: key, MimeType: &mimeType, FileName: &name}, nil
}

func (u *UploadSource) cleanup(staged []imageset.Asset) {
	for _, a := range staged {
		if err := u.storage.Remove(a.URI); err != nil {
			log.Warn().Err(err).Str("key", a.URI).Msg("failed to remove staged file")
		}
	}
}
