// Package imageset curates the bounded image collection of one listing while
// it is being created or edited.
//
// A collection is split between images that are already persisted (existing)
// and images that were picked but not uploaded yet (new). Existing images can
// be marked for deletion; marks are reversible until submission. Whenever the
// effective set (unmarked existing images plus all new images) is non-empty,
// exactly one of its entries is the feature image.
//
// A Manager is owned by a single caller and is not safe for concurrent use.
package imageset

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxImages      = 5
	DefaultTitlePrefix    = "Image"
	DefaultAltPlaceholder = "Listing image"
	DefaultMimeType       = "image/jpeg"
)

// Option configures a Manager.
type Option func(*Manager)

// WithPriority replaces the cascade tie-break. A nil priority is ignored.
func WithPriority(p Priority) Option {
	return func(m *Manager) {
		if p != nil {
			m.priority = p
		}
	}
}

// WithPlaceholders sets the title prefix and alt text given to new images.
func WithPlaceholders(titlePrefix, alt string) Option {
	return func(m *Manager) {
		if titlePrefix != "" {
			m.titlePrefix = titlePrefix
		}
		if alt != "" {
			m.altPlaceholder = alt
		}
	}
}

// WithLogger attaches a logger for feature reassignments.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager holds the image collection of one create/edit flow.
type Manager struct {
	existing  []ExistingImage
	added     []NewImage
	deleted   map[string]struct{}
	maxImages int

	priority       Priority
	titlePrefix    string
	altPlaceholder string
	// counter numbers placeholder titles; it never goes back down
	counter int

	logger zerolog.Logger
}

// New returns an empty manager bounded by maxImages. A non-positive bound
// falls back to DefaultMaxImages.
func New(maxImages int, opts ...Option) *Manager {
	m := &Manager{
		deleted:        make(map[string]struct{}),
		maxImages:      normalizeMax(maxImages),
		priority:       ExistingFirst,
		titlePrefix:    DefaultTitlePrefix,
		altPlaceholder: DefaultAltPlaceholder,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func normalizeMax(n int) int {
	if n <= 0 {
		return DefaultMaxImages
	}
	return n
}

// Initialize replaces the collection with the persisted images of the listing
// and clears new images and deletion marks.
//
// If none of the images is flagged as feature, the first one becomes the
// feature. If several are flagged, the first flagged one in list order wins.
// Persisted images above maxImages are kept; RemainingSlots is then zero.
func (m *Manager) Initialize(existing []ExistingImage, maxImages int) {
	m.existing = slices.Clone(existing)
	m.added = nil
	m.deleted = make(map[string]struct{})
	m.maxImages = normalizeMax(maxImages)
	m.counter = len(m.existing)

	if len(m.existing) > m.maxImages {
		m.logger.Warn().
			Int("existing", len(m.existing)).
			Int("max_images", m.maxImages).
			Msg("persisted images exceed the image limit")
	}

	featureSeen := false
	for i := range m.existing {
		if !m.existing[i].IsFeature {
			continue
		}
		if featureSeen {
			m.existing[i].IsFeature = false
			continue
		}
		featureSeen = true
	}
	if !featureSeen && len(m.existing) > 0 {
		m.existing[0].IsFeature = true
	}
}

// RequestAddImages asks src for up to RemainingSlots images and appends them
// as new images.
//
// It returns ErrLimitReached without calling src when no slot is left,
// ErrPickerCancelled when the user dismissed the picker and a *PickerError
// when the source failed. In all three cases the collection is unchanged.
//
// The first added image becomes the feature when the effective set was empty.
// Assets beyond the remaining slots, without a URI or already present are
// dropped.
func (m *Manager) RequestAddImages(ctx context.Context, src ImageSource) ([]NewImage, error) {
	remaining := m.RemainingSlots()
	if remaining <= 0 {
		return nil, ErrLimitReached
	}

	res, err := src.Pick(ctx, PickRequest{MaxCount: remaining, MediaKind: MediaKindPhoto})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrPickerCancelled) {
			return nil, ErrPickerCancelled
		}
		var perr *PickerError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &PickerError{Err: err}
	}

	switch res.Outcome {
	case OutcomeSelected:
	case OutcomeCancelled:
		return nil, ErrPickerCancelled
	case OutcomeError:
		return nil, &PickerError{Message: res.Message}
	default:
		return nil, &PickerError{Message: fmt.Sprintf("unknown outcome %q", res.Outcome)}
	}

	wasEmpty := m.EffectiveCount() == 0
	seen := make(map[string]struct{}, len(res.Assets))
	added := make([]NewImage, 0, min(len(res.Assets), remaining))
	for _, asset := range res.Assets {
		if len(added) == remaining {
			break
		}
		if asset.URI == "" || m.indexNew(asset.URI) >= 0 {
			continue
		}
		if _, dup := seen[asset.URI]; dup {
			continue
		}
		seen[asset.URI] = struct{}{}

		m.counter++
		added = append(added, NewImage{
			LocalRef: asset.URI,
			MimeType: valueOr(asset.MimeType, DefaultMimeType),
			FileName: cloneString(asset.FileName),
			Title:    fmt.Sprintf("%s %d", m.titlePrefix, m.counter),
			Alt:      m.altPlaceholder,
		})
	}
	if len(added) == 0 {
		return nil, ErrPickerCancelled
	}

	if wasEmpty {
		added[0].IsFeature = true
	}
	m.added = append(m.added, added...)
	m.enforce(Identity{})

	return slices.Clone(added), nil
}

// RemoveNewImage drops a pending image. It reports whether the image existed.
func (m *Manager) RemoveNewImage(localRef string) bool {
	idx := m.indexNew(localRef)
	if idx < 0 {
		return false
	}
	wasFeature := m.added[idx].IsFeature
	m.added = slices.Delete(m.added, idx, idx+1)
	if wasFeature {
		m.cascade()
	}
	m.enforce(Identity{})
	return true
}

// MarkForDeletion soft-deletes an existing image. It reports whether the
// image exists. Marking the feature image moves the feature elsewhere.
func (m *Manager) MarkForDeletion(id string) bool {
	idx := m.indexExisting(id)
	if idx < 0 {
		return false
	}
	if _, marked := m.deleted[id]; marked {
		return true
	}
	m.deleted[id] = struct{}{}
	if m.existing[idx].IsFeature {
		m.cascade()
	}
	m.enforce(Identity{})
	return true
}

// UnmarkForDeletion restores a soft-deleted image. It reports whether the
// image exists.
//
// The restored image keeps its own feature flag. If that would give the
// effective set a second feature, the current feature wins and the restored
// image's flag is cleared.
func (m *Manager) UnmarkForDeletion(id string) bool {
	if m.indexExisting(id) < 0 {
		return false
	}
	if _, marked := m.deleted[id]; !marked {
		return true
	}
	incumbent, _ := m.Feature()
	delete(m.deleted, id)
	m.enforce(incumbent)
	return true
}

// ToggleDeletion flips the deletion mark of an existing image and returns the
// new mark. ok is false when the image does not exist.
func (m *Manager) ToggleDeletion(id string) (marked bool, ok bool) {
	if m.IsMarked(id) {
		return false, m.UnmarkForDeletion(id)
	}
	return true, m.MarkForDeletion(id)
}

// SetFeature makes the named entry the only feature image, clearing the flag
// on every other entry including marked ones. It reports false and changes
// nothing when the entry does not exist or is marked for deletion.
func (m *Manager) SetFeature(id Identity) bool {
	if !m.isEffective(id) {
		return false
	}
	for i := range m.existing {
		m.existing[i].IsFeature = id.Kind == KindExisting && m.existing[i].ID == id.Key
	}
	for i := range m.added {
		m.added[i].IsFeature = id.Kind == KindNew && m.added[i].LocalRef == id.Key
	}
	return true
}

// UpdateTitle sets the title of an entry.
func (m *Manager) UpdateTitle(id Identity, title string) bool {
	return m.update(id, func(t, a *string) { *t = title })
}

// UpdateAlt sets the alt text of an entry.
func (m *Manager) UpdateAlt(id Identity, alt string) bool {
	return m.update(id, func(t, a *string) { *a = alt })
}

func (m *Manager) update(id Identity, fn func(title, alt *string)) bool {
	switch id.Kind {
	case KindExisting:
		if i := m.indexExisting(id.Key); i >= 0 {
			fn(&m.existing[i].Title, &m.existing[i].Alt)
			return true
		}
	case KindNew:
		if i := m.indexNew(id.Key); i >= 0 {
			fn(&m.added[i].Title, &m.added[i].Alt)
			return true
		}
	}
	return false
}

// EffectiveCount is the number of unmarked existing images plus new images.
func (m *Manager) EffectiveCount() int {
	n := len(m.added)
	for _, img := range m.existing {
		if !m.IsMarked(img.ID) {
			n++
		}
	}
	return n
}

// RemainingSlots is how many images can still be added.
func (m *Manager) RemainingSlots() int {
	return max(0, m.maxImages-m.EffectiveCount())
}

func (m *Manager) MaxImages() int { return m.maxImages }

// ExistingImages returns a copy of the existing images, marked ones included.
func (m *Manager) ExistingImages() []ExistingImage { return slices.Clone(m.existing) }

// NewImages returns a copy of the pending images in insertion order.
func (m *Manager) NewImages() []NewImage { return slices.Clone(m.added) }

// DeletionSet returns the marked image IDs in sorted order.
func (m *Manager) DeletionSet() []string {
	out := make([]string, 0, len(m.deleted))
	out = slices.AppendSeq(out, maps.Keys(m.deleted))
	slices.Sort(out)
	return out
}

func (m *Manager) IsMarked(id string) bool {
	_, ok := m.deleted[id]
	return ok
}

// Feature returns the feature image of the effective set.
func (m *Manager) Feature() (Identity, bool) {
	for _, img := range m.existing {
		if img.IsFeature && !m.IsMarked(img.ID) {
			return ExistingID(img.ID), true
		}
	}
	for _, img := range m.added {
		if img.IsFeature {
			return NewRef(img.LocalRef), true
		}
	}
	return Identity{}, false
}

func (m *Manager) indexExisting(id string) int {
	return slices.IndexFunc(m.existing, func(img ExistingImage) bool { return img.ID == id })
}

func (m *Manager) indexNew(ref string) int {
	return slices.IndexFunc(m.added, func(img NewImage) bool { return img.LocalRef == ref })
}

func (m *Manager) isEffective(id Identity) bool {
	switch id.Kind {
	case KindExisting:
		return m.indexExisting(id.Key) >= 0 && !m.IsMarked(id.Key)
	case KindNew:
		return m.indexNew(id.Key) >= 0
	}
	return false
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
