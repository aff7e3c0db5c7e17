package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListingImage is one persisted image of a listing. Exactly one image per
// listing has IsFeature set once the listing has images.
type ListingImage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID uuid.UUID `gorm:"type:uuid;not null;index" json:"listing_id"`
	AssetID   uuid.UUID `gorm:"type:uuid;not null" json:"asset_id"`
	Title     string    `gorm:"size:255" json:"title"`
	Alt       string    `gorm:"size:500" json:"alt"`
	IsFeature bool      `gorm:"not null;default:false" json:"is_feature"`
	Position  int       `gorm:"not null;default:0" json:"position"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Asset *Asset `gorm:"foreignKey:AssetID" json:"asset,omitempty"`
}

// BeforeCreate generates a UUID if not set
func (i *ListingImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
