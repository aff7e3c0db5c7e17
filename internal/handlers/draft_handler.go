package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/synesthesie/listings/internal/config"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/internal/services"
)

type DraftHandler struct {
	draftService   *services.DraftService
	storageService *services.StorageService
	cfg            *config.Config
}

func NewDraftHandler(draftService *services.DraftService, storageService *services.StorageService, cfg *config.Config) *DraftHandler {
	return &DraftHandler{
		draftService:   draftService,
		storageService: storageService,
		cfg:            cfg,
	}
}

type openDraftRequest struct {
	ListingID uuid.UUID `json:"listing_id" binding:"required"`
	Mode      string    `json:"mode" binding:"omitempty,oneof=create edit"`
}

// entryRequest names one image of a draft.
type entryRequest struct {
	Kind string `json:"kind" binding:"required,oneof=existing new"`
	Key  string `json:"key" binding:"required"`
}

func (r entryRequest) identity() imageset.Identity {
	return imageset.Identity{Kind: imageset.Kind(r.Kind), Key: r.Key}
}

type updateMetaRequest struct {
	entryRequest
	Title *string `json:"title"`
	Alt   *string `json:"alt"`
}

// Open starts a create or edit flow for a listing
// POST /drafts
// Body: {"listing_id": "...", "mode": "create|edit"}; mode defaults to edit
func (h *DraftHandler) Open(c *gin.Context) {
	var req openDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		view services.DraftView
		err  error
	)
	if req.Mode == services.DraftModeCreate {
		view, err = h.draftService.OpenCreate(c.Request.Context(), req.ListingID)
	} else {
		view, err = h.draftService.OpenEdit(c.Request.Context(), req.ListingID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// Get returns the current state of a draft
// GET /drafts/:id
func (h *DraftHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	view, err := h.draftService.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Discard drops a draft and its staged files
// DELETE /drafts/:id
func (h *DraftHandler) Discard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.draftService.Discard(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddImages stages uploaded files as new images of the draft
// POST /drafts/:id/images
// Multipart form: files[] (one or more images). An empty form counts as a
// cancelled pick.
func (h *DraftHandler) AddImages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		files = append(form.File["files[]"], form.File["files"]...)
	} else if !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse multipart form"})
		return
	}

	src := services.NewUploadSource(id, files, h.storageService, h.cfg.UploadMaxImageSize)
	added, view, err := h.draftService.AddImages(c.Request.Context(), id, src)
	if errors.Is(err, imageset.ErrPickerCancelled) {
		c.JSON(http.StatusOK, gin.H{"cancelled": true, "draft": view})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"added": added, "draft": view})
}

// RemoveNewImage drops a staged image that was not submitted yet
// DELETE /drafts/:id/images/new/*ref
func (h *DraftHandler) RemoveNewImage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ref := strings.TrimPrefix(c.Param("ref"), "/")
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image reference is required"})
		return
	}
	h.respond(c, func() (services.DraftView, error) { return h.draftService.RemoveNewImage(id, ref) })
}

// MarkForDeletion soft-deletes an existing image
// POST /drafts/:id/deletions/:imageId
func (h *DraftHandler) MarkForDeletion(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	h.respond(c, func() (services.DraftView, error) { return h.draftService.MarkForDeletion(id, c.Param("imageId")) })
}

// UnmarkForDeletion restores a soft-deleted image
// DELETE /drafts/:id/deletions/:imageId
func (h *DraftHandler) UnmarkForDeletion(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	h.respond(c, func() (services.DraftView, error) { return h.draftService.UnmarkForDeletion(id, c.Param("imageId")) })
}

// SetFeature makes one image the feature image
// PUT /drafts/:id/feature
// Body: {"kind": "existing|new", "key": "..."}
func (h *DraftHandler) SetFeature(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, func() (services.DraftView, error) { return h.draftService.SetFeature(id, req.identity()) })
}

// UpdateMeta edits the title and/or alt text of one image
// PUT /drafts/:id/images/meta
// Body: {"kind": "existing|new", "key": "...", "title": "...", "alt": "..."}
func (h *DraftHandler) UpdateMeta(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateMetaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title == nil && req.Alt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title or alt is required"})
		return
	}
	upd := services.MetaUpdate{Identity: req.identity(), Title: req.Title, Alt: req.Alt}
	h.respond(c, func() (services.DraftView, error) { return h.draftService.UpdateMeta(id, upd) })
}

// Preview returns the payload the draft would submit
// GET /drafts/:id/submission
func (h *DraftHandler) Preview(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	payload, err := h.draftService.Preview(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// Submit validates the draft and sends it to the listing images endpoint
// POST /drafts/:id/submit
func (h *DraftHandler) Submit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	payload, err := h.draftService.Submit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": true, "payload": payload})
}

func (h *DraftHandler) respond(c *gin.Context, fn func() (services.DraftView, error)) {
	view, err := fn()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
