package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/internal/services"
	"github.com/synesthesie/listings/internal/submission"
	"github.com/synesthesie/listings/pkg/validation"
)

type ListingHandler struct {
	listingService *services.ListingService
	imageService   *services.ListingImageService
}

func NewListingHandler(listingService *services.ListingService, imageService *services.ListingImageService) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		imageService:   imageService,
	}
}

// Create creates a listing without images
// POST /listings
func (h *ListingHandler) Create(c *gin.Context) {
	var req services.CreateListingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := h.listingService.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// Get returns a listing with presigned image URLs
// GET /listings/:id
func (h *ListingHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listingService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	images, err := h.imageService.ExistingImages(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          listing.ID,
		"kind":        listing.Kind,
		"title":       listing.Title,
		"description": listing.Description,
		"created_at":  listing.CreatedAt,
		"updated_at":  listing.UpdatedAt,
		"images":      images,
	})
}

// SubmitImages applies a submitted image collection to a listing
// POST /listings/:id/images
// Multipart form: featureImageId, imageInfo (JSON), imagesDeleted (JSON),
// imageRefs (JSON, one per file), images (files)
func (h *ListingHandler) SubmitImages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse multipart form"})
		return
	}

	var info imageset.ImageInfo
	if err := decodeField(form, submission.FieldImageInfo, &info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var deleted, refs []string
	if err := decodeField(form, submission.FieldImagesDeleted, &deleted); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := decodeField(form, submission.FieldImageRefs, &refs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	files := form.File[submission.FieldImages]
	if len(refs) != 0 && len(refs) != len(files) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageRefs must list one reference per file"})
		return
	}

	uploads := make([]services.ImageUpload, 0, len(files))
	for i, fh := range files {
		mimeType, err := sniff(fh)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		ref := fh.Filename
		if len(refs) > 0 {
			ref = refs[i]
		}
		uploads = append(uploads, services.ImageUpload{
			Ref:      ref,
			FileName: fh.Filename,
			MimeType: mimeType,
			Open:     func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	images, err := h.imageService.ApplySubmission(c.Request.Context(), id, services.SubmittedImages{
		FeatureImageID: c.PostForm(submission.FieldFeatureImageID),
		Titles:         info.Titles,
		Alts:           info.Alts,
		Deleted:        deleted,
		Uploads:        uploads,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": images})
}

func decodeField(form *multipart.Form, name string, dst any) error {
	values := form.Value[name]
	if len(values) == 0 || values[0] == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(values[0]), dst); err != nil {
		return fmt.Errorf("%s must be valid JSON", name)
	}
	return nil
}

// sniff detects the content type of an uploaded file and rejects non images.
func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if !validation.AllowedImageMIME(mt.String()) {
		return "", fmt.Errorf("%s: content is %s, not an image", fh.Filename, mt.String())
	}
	return mt.String(), nil
}
