package services

import "errors"

var (
	ErrListingNotFound   = errors.New("listing not found")
	ErrInvalidKind       = errors.New("invalid kind; must be 'rental', 'event' or 'post'")
	ErrInvalidTitle      = errors.New("title is required")
	ErrTooManyImages     = errors.New("too many images for this listing")
	ErrImageInfoMismatch = errors.New("image info does not match the number of images")
	ErrUnknownImage      = errors.New("image does not belong to this listing")
	ErrInvalidImageText  = errors.New("image title or alt text too long")

	ErrDraftNotFound  = errors.New("draft not found")
	ErrUnknownEntry   = errors.New("no such image in this draft")
	ErrImageMarked    = errors.New("image is marked for deletion")
	ErrPickInProgress = errors.New("an image pick is already in progress for this draft")
)
