package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/config"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/internal/models"
	"github.com/synesthesie/listings/pkg/validation"
	"gorm.io/gorm"
)

// ImageUpload is one new file of a submission.
type ImageUpload struct {
	Ref      string // client reference, matched against FeatureImageID
	FileName string
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// SubmittedImages is the server side view of a submission payload.
// Titles and Alts describe the kept existing images in display order followed
// by the uploads in order.
type SubmittedImages struct {
	FeatureImageID string
	Titles         []string
	Alts           []string
	Deleted        []string
	Uploads        []ImageUpload
}

type ListingImageService struct {
	db    *gorm.DB
	store ObjectStore
	cfg   *config.Config
}

func NewListingImageService(db *gorm.DB, store ObjectStore, cfg *config.Config) *ListingImageService {
	return &ListingImageService{db: db, store: store, cfg: cfg}
}

// ExistingImages returns the persisted images of a listing in display order,
// ready to seed an image collection.
func (s *ListingImageService) ExistingImages(ctx context.Context, listingID uuid.UUID) ([]imageset.ExistingImage, error) {
	images, err := s.load(ctx, listingID)
	if err != nil {
		return nil, err
	}

	out := make([]imageset.ExistingImage, 0, len(images))
	for _, img := range images {
		var url string
		if img.Asset != nil {
			url, err = s.store.PresignGet(ctx, img.Asset.Key)
			if err != nil {
				return nil, fmt.Errorf("presign image %s: %w", img.ID, err)
			}
		}
		out = append(out, imageset.ExistingImage{
			ID:        img.ID.String(),
			URL:       url,
			Title:     img.Title,
			Alt:       img.Alt,
			IsFeature: img.IsFeature,
		})
	}
	return out, nil
}

// ApplySubmission replaces the image collection of a listing with the
// submitted one. New files are uploaded before any row changes; objects of
// deleted images are removed once the rows are gone.
func (s *ListingImageService) ApplySubmission(ctx context.Context, listingID uuid.UUID, sub SubmittedImages) ([]models.ListingImage, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}

	current, err := s.load(ctx, listingID)
	if err != nil {
		return nil, err
	}

	deleted := make(map[string]bool, len(sub.Deleted))
	for _, id := range sub.Deleted {
		if !slices.ContainsFunc(current, func(img models.ListingImage) bool { return img.ID.String() == id }) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownImage, id)
		}
		deleted[id] = true
	}

	var kept, removed []models.ListingImage
	for _, img := range current {
		if deleted[img.ID.String()] {
			removed = append(removed, img)
		} else {
			kept = append(kept, img)
		}
	}

	total := len(kept) + len(sub.Uploads)
	if len(sub.Titles) != total || len(sub.Alts) != total {
		return nil, ErrImageInfoMismatch
	}
	// persisted collections above the bound may be kept, but never grown
	if len(sub.Uploads) > 0 && total > s.cfg.MaxImagesFor(listing.Kind) {
		return nil, ErrTooManyImages
	}
	for i := range total {
		if !validation.ValidateImageTitle(sub.Titles[i]) || !validation.ValidateImageAlt(sub.Alts[i]) {
			return nil, ErrInvalidImageText
		}
	}

	assets, err := s.uploadAll(ctx, listingID, sub.Uploads)
	if err != nil {
		return nil, err
	}

	feature := featureIndex(kept, sub.Uploads, sub.FeatureImageID)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, img := range removed {
			if err := tx.Delete(&models.ListingImage{}, "id = ?", img.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Asset{}, "id = ?", img.AssetID).Error; err != nil {
				return err
			}
		}

		for i, img := range kept {
			err := tx.Model(&models.ListingImage{}).Where("id = ?", img.ID).Updates(map[string]interface{}{
				"title":      validation.SanitizeString(sub.Titles[i]),
				"alt":        validation.SanitizeString(sub.Alts[i]),
				"position":   i,
				"is_feature": i == feature,
			}).Error
			if err != nil {
				return err
			}
		}

		for j := range assets {
			pos := len(kept) + j
			if err := tx.Create(&assets[j]).Error; err != nil {
				return err
			}
			row := &models.ListingImage{
				ListingID: listingID,
				AssetID:   assets[j].ID,
				Title:     validation.SanitizeString(sub.Titles[pos]),
				Alt:       validation.SanitizeString(sub.Alts[pos]),
				Position:  pos,
				IsFeature: pos == feature,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.deleteObjects(ctx, assetKeys(assets))
		return nil, err
	}

	var removedKeys []string
	for _, img := range removed {
		if img.Asset != nil {
			removedKeys = append(removedKeys, img.Asset.Key)
		}
	}
	s.deleteObjects(ctx, removedKeys)

	log.Ctx(ctx).Info().
		Str("listing_id", listingID.String()).
		Int("kept", len(kept)).
		Int("uploaded", len(assets)).
		Int("deleted", len(removed)).
		Msg("listing images updated")

	return s.load(ctx, listingID)
}

func (s *ListingImageService) load(ctx context.Context, listingID uuid.UUID) ([]models.ListingImage, error) {
	var images []models.ListingImage
	err := s.db.WithContext(ctx).
		Preload("Asset").
		Where("listing_id = ?", listingID).
		Order("position ASC").
		Find(&images).Error
	return images, err
}

func (s *ListingImageService) uploadAll(ctx context.Context, listingID uuid.UUID, uploads []ImageUpload) ([]models.Asset, error) {
	assets := make([]models.Asset, 0, len(uploads))
	for _, up := range uploads {
		asset, err := s.upload(ctx, listingID, up)
		if err != nil {
			s.deleteObjects(ctx, assetKeys(assets))
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (s *ListingImageService) upload(ctx context.Context, listingID uuid.UUID, up ImageUpload) (models.Asset, error) {
	rc, err := up.Open()
	if err != nil {
		return models.Asset{}, fmt.Errorf("open %s: %w", up.FileName, err)
	}
	defer rc.Close()

	mimeType := up.MimeType
	if mimeType == "" {
		mimeType = imageset.DefaultMimeType
	}
	ext := strings.ToLower(filepath.Ext(up.FileName))
	if ext == "" {
		if mt := mimetype.Lookup(mimeType); mt != nil {
			ext = mt.Extension()
		}
	}
	key := path.Join("listings", listingID.String(), uuid.New().String()+ext)

	hasher := sha256.New()
	counter := &countingWriter{}
	body := io.TeeReader(rc, io.MultiWriter(hasher, counter))
	if err := s.store.Put(ctx, key, body, mimeType); err != nil {
		return models.Asset{}, fmt.Errorf("upload %s: %w", up.FileName, err)
	}

	return models.Asset{
		ID:        uuid.New(),
		Key:       key,
		Filename:  up.FileName,
		MimeType:  mimeType,
		SizeBytes: counter.n,
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *ListingImageService) deleteObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to delete image object")
		}
	}
}

// featureIndex resolves the requested feature to a position in the merged
// list. An unknown or empty id falls back to the first image.
func featureIndex(kept []models.ListingImage, uploads []ImageUpload, featureID string) int {
	if len(kept)+len(uploads) == 0 {
		return -1
	}
	for i, img := range kept {
		if img.ID.String() == featureID {
			return i
		}
	}
	for j, up := range uploads {
		if featureID != "" && (up.Ref == featureID || up.FileName == featureID) {
			return len(kept) + j
		}
	}
	return 0
}

func assetKeys(assets []models.Asset) []string {
	keys := make([]string, 0, len(assets))
	for _, a := range assets {
		keys = append(keys, a.Key)
	}
	return keys
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
