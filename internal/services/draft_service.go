package services

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/config"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/internal/models"
	"github.com/synesthesie/listings/internal/submission"
	"github.com/synesthesie/listings/pkg/validation"
)

const (
	DraftModeCreate = "create"
	DraftModeEdit   = "edit"
)

// ListingReader resolves the listing a draft belongs to.
type ListingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

// ExistingImageLoader loads the persisted images a draft starts from.
type ExistingImageLoader interface {
	ExistingImages(ctx context.Context, listingID uuid.UUID) ([]imageset.ExistingImage, error)
}

// Stager is the local staging area picked files live in until submission.
type Stager interface {
	Remove(key string) error
	PurgeDraft(draftID uuid.UUID) error
}

// Draft is one open create or edit flow. Access goes through DraftService,
// which serialises every call on the draft's mutex.
type Draft struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	Kind      string
	Mode      string
	CreatedAt time.Time

	mu      sync.Mutex
	manager *imageset.Manager
	picking atomic.Bool
	timer   *time.Timer
	// closed is set under mu once the draft is submitted or discarded
	closed bool
}

// DraftExistingImage is an existing image with its deletion mark.
type DraftExistingImage struct {
	imageset.ExistingImage
	MarkedForDeletion bool `json:"marked_for_deletion"`
}

// DraftView is the read model of a draft.
type DraftView struct {
	ID             uuid.UUID            `json:"id"`
	ListingID      uuid.UUID            `json:"listing_id"`
	Kind           string               `json:"kind"`
	Mode           string               `json:"mode"`
	MaxImages      int                  `json:"max_images"`
	EffectiveCount int                  `json:"effective_count"`
	RemainingSlots int                  `json:"remaining_slots"`
	Existing       []DraftExistingImage `json:"existing"`
	New            []imageset.NewImage  `json:"new"`
	ImagesDeleted  []string             `json:"images_deleted"`
	Feature        *imageset.Identity   `json:"feature"`
}

// MetaUpdate changes the title and/or alt text of one entry.
type MetaUpdate struct {
	imageset.Identity
	Title *string `json:"title"`
	Alt   *string `json:"alt"`
}

type DraftService struct {
	cfg      *config.Config
	listings ListingReader
	images   ExistingImageLoader
	staging  Stager
	target   submission.Target
	ttl      time.Duration

	mu     sync.RWMutex
	drafts map[uuid.UUID]*Draft
}

func NewDraftService(cfg *config.Config, listings ListingReader, images ExistingImageLoader, staging Stager, target submission.Target) *DraftService {
	return &DraftService{
		cfg:      cfg,
		listings: listings,
		images:   images,
		staging:  staging,
		target:   target,
		ttl:      cfg.DraftTTL,
		drafts:   make(map[uuid.UUID]*Draft),
	}
}

// OpenCreate starts a draft for a listing that has no images yet.
func (s *DraftService) OpenCreate(ctx context.Context, listingID uuid.UUID) (DraftView, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return DraftView{}, err
	}
	d := s.newDraft(listing, DraftModeCreate)
	d.manager.Initialize(nil, s.cfg.MaxImagesFor(listing.Kind))
	return s.register(ctx, d), nil
}

// OpenEdit starts a draft seeded with the listing's persisted images.
func (s *DraftService) OpenEdit(ctx context.Context, listingID uuid.UUID) (DraftView, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return DraftView{}, err
	}
	existing, err := s.images.ExistingImages(ctx, listingID)
	if err != nil {
		return DraftView{}, err
	}
	d := s.newDraft(listing, DraftModeEdit)
	d.manager.Initialize(existing, s.cfg.MaxImagesFor(listing.Kind))
	return s.register(ctx, d), nil
}

func (s *DraftService) newDraft(listing *models.Listing, mode string) *Draft {
	id := uuid.New()
	logger := log.With().Str("draft_id", id.String()).Logger()
	maxImages := s.cfg.MaxImagesFor(listing.Kind)
	return &Draft{
		ID:        id,
		ListingID: listing.ID,
		Kind:      listing.Kind,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
		manager: imageset.New(maxImages,
			imageset.WithPlaceholders(s.cfg.ImageTitlePrefix, s.cfg.ImageAltPlaceholder),
			imageset.WithLogger(logger),
		),
	}
}

func (s *DraftService) register(ctx context.Context, d *Draft) DraftView {
	s.mu.Lock()
	s.drafts[d.ID] = d
	if s.ttl > 0 {
		id := d.ID
		d.timer = time.AfterFunc(s.ttl, func() { s.expire(id) })
	}
	s.mu.Unlock()

	log.Ctx(ctx).Info().
		Str("draft_id", d.ID.String()).
		Str("listing_id", d.ListingID.String()).
		Str("mode", d.Mode).
		Int("existing", len(d.manager.ExistingImages())).
		Msg("draft opened")
	return view(d)
}

func (s *DraftService) expire(id uuid.UUID) {
	if err := s.Discard(id); err == nil {
		log.Info().Str("draft_id", id.String()).Msg("draft expired")
	}
}

// take removes a draft from the registry.
func (s *DraftService) take(id uuid.UUID) (*Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, false
	}
	delete(s.drafts, id)
	if d.timer != nil {
		d.timer.Stop()
	}
	return d, true
}

func (s *DraftService) purge(d *Draft) {
	if err := s.staging.PurgeDraft(d.ID); err != nil {
		log.Warn().Err(err).Str("draft_id", d.ID.String()).Msg("failed to purge staged files")
	}
}

func (s *DraftService) lookup(id uuid.UUID) (*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return d, nil
}

// acquire locks an open draft and pushes back its expiry. Callers unlock d.mu.
func (s *DraftService) acquire(id uuid.UUID) (*Draft, error) {
	d, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := s.lockOpen(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DraftService) lockOpen(d *Draft) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDraftNotFound
	}
	if d.timer != nil {
		d.timer.Reset(s.ttl)
	}
	return nil
}

// with runs fn under the draft's lock and returns the resulting view.
func (s *DraftService) with(id uuid.UUID, fn func(d *Draft) error) (DraftView, error) {
	d, err := s.acquire(id)
	if err != nil {
		return DraftView{}, err
	}
	defer d.mu.Unlock()
	if err := fn(d); err != nil {
		return DraftView{}, err
	}
	return view(d), nil
}

// IsOpen reports whether a draft with the given id is registered.
func (s *DraftService) IsOpen(id uuid.UUID) bool {
	_, err := s.lookup(id)
	return err == nil
}

func (s *DraftService) Get(id uuid.UUID) (DraftView, error) {
	return s.with(id, func(*Draft) error { return nil })
}

// AddImages asks src for as many images as the draft has free slots. Only one
// pick per draft may be outstanding; other calls on the draft wait for it.
func (s *DraftService) AddImages(ctx context.Context, id uuid.UUID, src imageset.ImageSource) ([]imageset.NewImage, DraftView, error) {
	d, err := s.lookup(id)
	if err != nil {
		return nil, DraftView{}, err
	}
	if !d.picking.CompareAndSwap(false, true) {
		return nil, DraftView{}, ErrPickInProgress
	}
	defer d.picking.Store(false)

	if err := s.lockOpen(d); err != nil {
		return nil, DraftView{}, err
	}
	defer d.mu.Unlock()

	added, err := d.manager.RequestAddImages(ctx, src)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("draft_id", id.String()).Msg("no images added")
		return nil, view(d), err
	}
	return added, view(d), nil
}

func (s *DraftService) RemoveNewImage(id uuid.UUID, localRef string) (DraftView, error) {
	return s.with(id, func(d *Draft) error {
		if !d.manager.RemoveNewImage(localRef) {
			return ErrUnknownEntry
		}
		if err := s.staging.Remove(localRef); err != nil {
			log.Warn().Err(err).Str("key", localRef).Msg("failed to remove staged file")
		}
		return nil
	})
}

func (s *DraftService) MarkForDeletion(id uuid.UUID, imageID string) (DraftView, error) {
	return s.with(id, func(d *Draft) error {
		if !d.manager.MarkForDeletion(imageID) {
			return ErrUnknownEntry
		}
		return nil
	})
}

func (s *DraftService) UnmarkForDeletion(id uuid.UUID, imageID string) (DraftView, error) {
	return s.with(id, func(d *Draft) error {
		if !d.manager.UnmarkForDeletion(imageID) {
			return ErrUnknownEntry
		}
		return nil
	})
}

func (s *DraftService) SetFeature(id uuid.UUID, entry imageset.Identity) (DraftView, error) {
	return s.with(id, func(d *Draft) error {
		if entry.Kind == imageset.KindExisting && d.manager.IsMarked(entry.Key) {
			return ErrImageMarked
		}
		if !d.manager.SetFeature(entry) {
			return ErrUnknownEntry
		}
		return nil
	})
}

func (s *DraftService) UpdateMeta(id uuid.UUID, upd MetaUpdate) (DraftView, error) {
	if upd.Title != nil && !validation.ValidateImageTitle(*upd.Title) {
		return DraftView{}, ErrInvalidImageText
	}
	if upd.Alt != nil && !validation.ValidateImageAlt(*upd.Alt) {
		return DraftView{}, ErrInvalidImageText
	}
	return s.with(id, func(d *Draft) error {
		if upd.Title != nil && !d.manager.UpdateTitle(upd.Identity, validation.SanitizeString(*upd.Title)) {
			return ErrUnknownEntry
		}
		if upd.Alt != nil && !d.manager.UpdateAlt(upd.Identity, validation.SanitizeString(*upd.Alt)) {
			return ErrUnknownEntry
		}
		return nil
	})
}

// Preview returns the payload the draft would submit right now.
func (s *DraftService) Preview(id uuid.UUID) (imageset.SubmissionPayload, error) {
	var p imageset.SubmissionPayload
	_, err := s.with(id, func(d *Draft) error {
		p = d.manager.PrepareSubmission()
		return nil
	})
	return p, err
}

// Submit validates the draft, hands its payload to the submission target and
// closes the draft on success. A failed submission leaves the draft open.
// Calls queued behind a successful submit get ErrDraftNotFound.
func (s *DraftService) Submit(ctx context.Context, id uuid.UUID) (imageset.SubmissionPayload, error) {
	d, err := s.acquire(id)
	if err != nil {
		return imageset.SubmissionPayload{}, err
	}

	if err := d.manager.Validate(); err != nil {
		d.mu.Unlock()
		return imageset.SubmissionPayload{}, err
	}
	payload := d.manager.PrepareSubmission()
	err = s.target.Submit(ctx, d.ListingID, payload)
	if err == nil {
		d.closed = true
	}
	d.mu.Unlock()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("draft_id", id.String()).Msg("submission failed")
		return payload, err
	}

	if taken, ok := s.take(id); ok {
		s.purge(taken)
	}
	log.Ctx(ctx).Info().
		Str("draft_id", id.String()).
		Str("listing_id", d.ListingID.String()).
		Str("feature", payload.FeatureImageID).
		Msg("draft submitted")
	return payload, nil
}

// Discard drops a draft and its staged files.
func (s *DraftService) Discard(id uuid.UUID) error {
	d, ok := s.take(id)
	if !ok {
		return ErrDraftNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	s.purge(d)
	return nil
}

// Close discards every open draft.
func (s *DraftService) Close() {
	s.mu.RLock()
	ids := slices.Collect(maps.Keys(s.drafts))
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Discard(id)
	}
	log.Info().Int("drafts", len(ids)).Msg("open drafts discarded")
}

func view(d *Draft) DraftView {
	m := d.manager
	existing := m.ExistingImages()
	v := DraftView{
		ID:             d.ID,
		ListingID:      d.ListingID,
		Kind:           d.Kind,
		Mode:           d.Mode,
		MaxImages:      m.MaxImages(),
		EffectiveCount: m.EffectiveCount(),
		RemainingSlots: m.RemainingSlots(),
		Existing:       make([]DraftExistingImage, 0, len(existing)),
		New:            m.NewImages(),
		ImagesDeleted:  m.DeletionSet(),
	}
	if v.New == nil {
		v.New = []imageset.NewImage{}
	}
	for _, img := range existing {
		marked := m.IsMarked(img.ID)
		// a marked image keeps its flag for a later unmark but is never shown as the feature
		img.IsFeature = img.IsFeature && !marked
		v.Existing = append(v.Existing, DraftExistingImage{ExistingImage: img, MarkedForDeletion: marked})
	}
	if f, ok := m.Feature(); ok {
		v.Feature = &f
	}
	return v
}
