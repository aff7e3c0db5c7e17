package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/synesthesie/listings/internal/config"
	"github.com/synesthesie/listings/internal/models"
	"github.com/synesthesie/listings/pkg/validation"
	"gorm.io/gorm"
)

type ListingService struct {
	db *gorm.DB
}

func NewListingService(db *gorm.DB) *ListingService {
	return &ListingService{db: db}
}

type CreateListingInput struct {
	Kind        string `json:"kind" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

func (s *ListingService) Create(ctx context.Context, in CreateListingInput) (*models.Listing, error) {
	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	if !config.ValidKind(kind) {
		return nil, ErrInvalidKind
	}
	title := validation.SanitizeString(in.Title)
	if title == "" || !validation.ValidateImageTitle(title) {
		return nil, ErrInvalidTitle
	}

	listing := &models.Listing{
		Kind:        kind,
		Title:       title,
		Description: validation.SanitizeString(in.Description),
	}
	if err := s.db.WithContext(ctx).Create(listing).Error; err != nil {
		return nil, err
	}
	return listing, nil
}

// GetByID loads a listing with its images in display order
func (s *ListingService) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Images.Asset").
		First(&listing, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return &listing, nil
}
