package imageset

import (
	"context"
	"errors"
	"fmt"
)

// MediaKind is the kind of media requested from an ImageSource.
type MediaKind string

const MediaKindPhoto MediaKind = "photo"

// Outcome is the result class of a pick request.
type Outcome string

const (
	OutcomeSelected  Outcome = "selected"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// Asset is one picked file as reported by the source.
type Asset struct {
	URI      string  `json:"uri"`
	MimeType *string `json:"mime_type"`
	FileName *string `json:"file_name"`
}

// PickRequest asks a source for at most MaxCount assets.
type PickRequest struct {
	MaxCount  int       `json:"max_count"`
	MediaKind MediaKind `json:"media_kind"`
}

// PickResult is what a source returns for a PickRequest.
type PickResult struct {
	Outcome Outcome `json:"outcome"`
	Assets  []Asset `json:"assets,omitempty"`
	Message string  `json:"message,omitempty"`
}

// ImageSource supplies newly picked images. Pick may block until the user
// finishes; it should honour ctx cancellation.
type ImageSource interface {
	Pick(ctx context.Context, req PickRequest) (PickResult, error)
}

// SourceFunc adapts a function to ImageSource.
type SourceFunc func(ctx context.Context, req PickRequest) (PickResult, error)

func (f SourceFunc) Pick(ctx context.Context, req PickRequest) (PickResult, error) {
	return f(ctx, req)
}

var (
	// ErrLimitReached is returned when no slot is left. The source is not called.
	ErrLimitReached = errors.New("imageset: image limit reached")
	// ErrPickerCancelled reports that the user dismissed the picker. The
	// collection is unchanged.
	ErrPickerCancelled = errors.New("imageset: picker cancelled")
	// ErrPicker matches every *PickerError through errors.Is.
	ErrPicker = errors.New("imageset: picker failed")
)

// PickerError is a failed pick. The collection is unchanged.
type PickerError struct {
	Message string
	Err     error
}

func (e *PickerError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("imageset: picker failed: %s: %v", e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("imageset: picker failed: %v", e.Err)
	case e.Message != "":
		return "imageset: picker failed: " + e.Message
	}
	return ErrPicker.Error()
}

func (e *PickerError) Unwrap() error { return e.Err }

func (e *PickerError) Is(target error) bool { return target == ErrPicker }
