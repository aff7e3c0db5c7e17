package imageset

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrEmptyCollection means the effective set has no image.
	ErrEmptyCollection = errors.New("imageset: no images selected")
	// ErrNoFeatureImage means no image of the effective set is the feature.
	ErrNoFeatureImage = errors.New("imageset: no feature image selected")
)

// UploadDescriptor describes one file to upload.
type UploadDescriptor struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// ImageInfo carries titles and alts positionally: Titles[i] pairs with Alts[i].
type ImageInfo struct {
	Titles []string `json:"titles"`
	Alts   []string `json:"alts"`
}

// SubmissionPayload is everything the submission target needs for one
// listing. ImagesDeleted only matters for edit flows.
type SubmissionPayload struct {
	FeatureImageID  string             `json:"featureImageId"`
	ImagesToUpload  []UploadDescriptor `json:"imagesToUpload"`
	ImageInfo       ImageInfo          `json:"imageInfo"`
	HasFeatureImage bool               `json:"hasFeatureImage"`
	ImagesDeleted   []string           `json:"imagesDeleted"`
}

// Validate reports the first condition that blocks submission.
func (p SubmissionPayload) Validate() error {
	if len(p.ImageInfo.Titles) == 0 {
		return ErrEmptyCollection
	}
	if !p.HasFeatureImage {
		return ErrNoFeatureImage
	}
	return nil
}

// PrepareSubmission derives the payload from the current state. It does not
// modify the manager and can be called any number of times.
//
// ImageInfo lists unmarked existing images in list order followed by new
// images in insertion order.
func (m *Manager) PrepareSubmission() SubmissionPayload {
	p := SubmissionPayload{
		ImagesToUpload: make([]UploadDescriptor, 0, len(m.added)),
		ImageInfo: ImageInfo{
			Titles: make([]string, 0, m.EffectiveCount()),
			Alts:   make([]string, 0, m.EffectiveCount()),
		},
		ImagesDeleted: m.DeletionSet(),
	}

	if id, ok := m.Feature(); ok {
		p.FeatureImageID = id.Key
		p.HasFeatureImage = true
	}

	for _, img := range m.existing {
		if m.IsMarked(img.ID) {
			continue
		}
		p.ImageInfo.Titles = append(p.ImageInfo.Titles, img.Title)
		p.ImageInfo.Alts = append(p.ImageInfo.Alts, img.Alt)
	}
	for i, img := range m.added {
		p.ImageInfo.Titles = append(p.ImageInfo.Titles, img.Title)
		p.ImageInfo.Alts = append(p.ImageInfo.Alts, img.Alt)
		p.ImagesToUpload = append(p.ImagesToUpload, UploadDescriptor{
			URI:  img.LocalRef,
			Type: valueOr(&img.MimeType, DefaultMimeType),
			Name: uploadName(i, img),
		})
	}

	return p
}

// Validate is the pull-based submission check for hosts.
func (m *Manager) Validate() error {
	if m.EffectiveCount() == 0 {
		return ErrEmptyCollection
	}
	if _, ok := m.Feature(); !ok {
		return ErrNoFeatureImage
	}
	return nil
}

// uploadName keeps the picked file name or builds image_<n><ext> from the MIME type.
func uploadName(i int, img NewImage) string {
	if img.FileName != nil && *img.FileName != "" {
		return *img.FileName
	}
	ext := ".jpg"
	if mt := mimetype.Lookup(valueOr(&img.MimeType, DefaultMimeType)); mt != nil && mt.Extension() != "" {
		ext = mt.Extension()
	}
	return fmt.Sprintf("image_%d%s", i+1, ext)
}
