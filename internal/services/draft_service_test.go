package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synesthesie/listings/internal/imageset"
	"github.com/synesthesie/listings/internal/models"
)

type fakeListings map[uuid.UUID]*models.Listing

func (f fakeListings) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, ok := f[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return l, nil
}

type fakeImages map[uuid.UUID][]imageset.ExistingImage

func (f fakeImages) ExistingImages(ctx context.Context, listingID uuid.UUID) ([]imageset.ExistingImage, error) {
	return f[listingID], nil
}

type fakeStager struct {
	mu      sync.Mutex
	removed []string
	purged  []uuid.UUID
}

func (f *fakeStager) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeStager) PurgeDraft(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, id)
	return nil
}

func (f *fakeStager) wasPurged(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.purged {
		if p == id {
			return true
		}
	}
	return false
}

type fakeTarget struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	calls    int
	listing  uuid.UUID
	payloads []imageset.SubmissionPayload
}

func (f *fakeTarget) Submit(ctx context.Context, listingID uuid.UUID, p imageset.SubmissionPayload) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.listing = listingID
	f.payloads = append(f.payloads, p)
	return nil
}

type draftFixture struct {
	svc     *DraftService
	stager  *fakeStager
	target  *fakeTarget
	rental  *models.Listing
	event   *models.Listing
	seeded  []imageset.ExistingImage
	counter int
}

func newDraftFixture(t *testing.T, ttl time.Duration) *draftFixture {
	t.Helper()
	cfg := testConfig(t)
	cfg.DraftTTL = ttl

	f := &draftFixture{
		stager: &fakeStager{},
		target: &fakeTarget{},
		rental: &models.Listing{ID: uuid.New(), Kind: "rental", Title: "Loft"},
		event:  &models.Listing{ID: uuid.New(), Kind: "event", Title: "Gig"},
		seeded: []imageset.ExistingImage{
			{ID: "E1", URL: "https://cdn.test/e1", Title: "one"},
			{ID: "E2", URL: "https://cdn.test/e2", Title: "two", IsFeature: true},
		},
	}
	listings := fakeListings{f.rental.ID: f.rental, f.event.ID: f.event}
	images := fakeImages{f.event.ID: f.seeded}
	f.svc = NewDraftService(cfg, listings, images, f.stager, f.target)
	t.Cleanup(f.svc.Close)
	return f
}

// pick returns a source that selects n fresh assets.
func (f *draftFixture) pick(n int) imageset.ImageSource {
	return imageset.SourceFunc(func(ctx context.Context, req imageset.PickRequest) (imageset.PickResult, error) {
		var assets []imageset.Asset
		for range n {
			f.counter++
			assets = append(assets, imageset.Asset{URI: fmt.Sprintf("staging/x/%d.jpg", f.counter)})
		}
		return imageset.PickResult{Outcome: imageset.OutcomeSelected, Assets: assets}, nil
	})
}

func TestDraftService_OpenCreate(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()

	v, err := f.svc.OpenCreate(ctx, f.rental.ID)
	require.NoError(t, err)
	assert.Equal(t, DraftModeCreate, v.Mode)
	assert.Equal(t, 10, v.MaxImages)
	assert.Equal(t, 10, v.RemainingSlots)
	assert.Nil(t, v.Feature)
	assert.Empty(t, v.Existing)
	assert.NotNil(t, v.New)

	_, err = f.svc.OpenCreate(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestDraftService_OpenEdit(t *testing.T) {
	f := newDraftFixture(t, 0)

	v, err := f.svc.OpenEdit(context.Background(), f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, DraftModeEdit, v.Mode)
	assert.Equal(t, 5, v.MaxImages)
	assert.Equal(t, 3, v.RemainingSlots)
	require.Len(t, v.Existing, 2)
	require.NotNil(t, v.Feature)
	assert.Equal(t, imageset.ExistingID("E2"), *v.Feature)
}

func TestDraftService_AddAndRemoveImages(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()
	v, err := f.svc.OpenCreate(ctx, f.rental.ID)
	require.NoError(t, err)

	added, v, err := f.svc.AddImages(ctx, v.ID, f.pick(2))
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "Image 1", added[0].Title)
	assert.Equal(t, "Listing image", added[0].Alt)
	assert.Equal(t, 8, v.RemainingSlots)
	assert.Equal(t, imageset.NewRef(added[0].LocalRef), *v.Feature)

	v, err = f.svc.RemoveNewImage(v.ID, added[0].LocalRef)
	require.NoError(t, err)
	assert.Equal(t, imageset.NewRef(added[1].LocalRef), *v.Feature)
	assert.Equal(t, []string{added[0].LocalRef}, f.stager.removed)

	_, err = f.svc.RemoveNewImage(v.ID, added[0].LocalRef)
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestDraftService_AddImagesErrors(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()
	v, err := f.svc.OpenEdit(ctx, f.event.ID)
	require.NoError(t, err)

	cancelled := imageset.SourceFunc(func(context.Context, imageset.PickRequest) (imageset.PickResult, error) {
		return imageset.PickResult{Outcome: imageset.OutcomeCancelled}, nil
	})
	_, _, err = f.svc.AddImages(ctx, v.ID, cancelled)
	assert.ErrorIs(t, err, imageset.ErrPickerCancelled)

	_, v, err = f.svc.AddImages(ctx, v.ID, f.pick(3))
	require.NoError(t, err)
	assert.Equal(t, 0, v.RemainingSlots)

	_, _, err = f.svc.AddImages(ctx, v.ID, f.pick(1))
	assert.ErrorIs(t, err, imageset.ErrLimitReached)

	_, _, err = f.svc.AddImages(ctx, uuid.New(), f.pick(1))
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftService_PickInProgress(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()
	v, err := f.svc.OpenCreate(ctx, f.rental.ID)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := imageset.SourceFunc(func(ctx context.Context, req imageset.PickRequest) (imageset.PickResult, error) {
		close(started)
		<-release
		return imageset.PickResult{Outcome: imageset.OutcomeSelected, Assets: []imageset.Asset{{URI: "staging/x/slow.jpg"}}}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, _, err := f.svc.AddImages(ctx, v.ID, slow)
		done <- err
	}()
	<-started

	_, _, err = f.svc.AddImages(ctx, v.ID, f.pick(1))
	assert.ErrorIs(t, err, ErrPickInProgress)

	close(release)
	require.NoError(t, <-done)

	v, err = f.svc.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.EffectiveCount)
}

func TestDraftService_DeletionAndFeature(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()
	v, err := f.svc.OpenEdit(ctx, f.event.ID)
	require.NoError(t, err)

	v, err = f.svc.MarkForDeletion(v.ID, "E2")
	require.NoError(t, err)
	assert.Equal(t, imageset.ExistingID("E1"), *v.Feature)
	assert.Equal(t, []string{"E2"}, v.ImagesDeleted)
	assert.True(t, v.Existing[1].MarkedForDeletion)

	_, err = f.svc.SetFeature(v.ID, imageset.ExistingID("E2"))
	assert.ErrorIs(t, err, ErrImageMarked)
	_, err = f.svc.SetFeature(v.ID, imageset.ExistingID("nope"))
	assert.ErrorIs(t, err, ErrUnknownEntry)

	v, err = f.svc.UnmarkForDeletion(v.ID, "E2")
	require.NoError(t, err)
	assert.Equal(t, imageset.ExistingID("E1"), *v.Feature)
	assert.Empty(t, v.ImagesDeleted)

	v, err = f.svc.SetFeature(v.ID, imageset.ExistingID("E2"))
	require.NoError(t, err)
	assert.Equal(t, imageset.ExistingID("E2"), *v.Feature)

	_, err = f.svc.MarkForDeletion(v.ID, "missing")
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestDraftService_UpdateMeta(t *testing.T) {
	f := newDraftFixture(t, 0)
	v, err := f.svc.OpenEdit(context.Background(), f.event.ID)
	require.NoError(t, err)

	title := "  Rooftop view "
	v, err = f.svc.UpdateMeta(v.ID, MetaUpdate{Identity: imageset.ExistingID("E1"), Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Rooftop view", v.Existing[0].Title)

	long := strings.Repeat("a", 501)
	_, err = f.svc.UpdateMeta(v.ID, MetaUpdate{Identity: imageset.ExistingID("E1"), Alt: &long})
	assert.ErrorIs(t, err, ErrInvalidImageText)

	_, err = f.svc.UpdateMeta(v.ID, MetaUpdate{Identity: imageset.NewRef("nope"), Title: &title})
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestDraftService_Submit(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()
	v, err := f.svc.OpenEdit(ctx, f.event.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkForDeletion(v.ID, "E1")
	require.NoError(t, err)
	added, _, err := f.svc.AddImages(ctx, v.ID, f.pick(1))
	require.NoError(t, err)

	preview, err := f.svc.Preview(v.ID)
	require.NoError(t, err)

	payload, err := f.svc.Submit(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, preview, payload)
	assert.Equal(t, "E2", payload.FeatureImageID)
	assert.Equal(t, []string{"E1"}, payload.ImagesDeleted)
	require.Len(t, payload.ImagesToUpload, 1)
	assert.Equal(t, added[0].LocalRef, payload.ImagesToUpload[0].URI)

	assert.Equal(t, f.event.ID, f.target.listing)
	assert.True(t, f.stager.wasPurged(v.ID))
	_, err = f.svc.Get(v.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftService_SubmitFailures(t *testing.T) {
	f := newDraftFixture(t, 0)
	ctx := context.Background()

	empty, err := f.svc.OpenCreate(ctx, f.rental.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, empty.ID)
	assert.ErrorIs(t, err, imageset.ErrEmptyCollection)
	assert.Empty(t, f.target.payloads)

	v, err := f.svc.OpenEdit(ctx, f.event.ID)
	require.NoError(t, err)
	f.target.err = errors.New("connection refused")
	_, err = f.svc.Submit(ctx, v.ID)
	require.Error(t, err)

	_, err = f.svc.Get(v.ID)
	assert.NoError(t, err, "a failed submission keeps the draft for a retry")
	assert.False(t, f.stager.wasPurged(v.ID))
}

func TestDraftService_Discard(t *testing.T) {
	f := newDraftFixture(t, 0)
	v, err := f.svc.OpenCreate(context.Background(), f.rental.ID)
	require.NoError(t, err)

	assert.True(t, f.svc.IsOpen(v.ID))
	require.NoError(t, f.svc.Discard(v.ID))
	assert.True(t, f.stager.wasPurged(v.ID))
	assert.False(t, f.svc.IsOpen(v.ID))
	assert.ErrorIs(t, f.svc.Discard(v.ID), ErrDraftNotFound)
}

func TestDraftService_Expiry(t *testing.T) {
	f := newDraftFixture(t, 20*time.Millisecond)
	v, err := f.svc.OpenCreate(context.Background(), f.rental.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.stager.wasPurged(v.ID) }, time.Second, 5*time.Millisecond)
	_, err = f.svc.Get(v.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftService_ConcurrentSubmitSendsOnce(t *testing.T) {
	f := newDraftFixture(t, 0)
	f.target.delay = 50 * time.Millisecond
	v, err := f.svc.OpenEdit(context.Background(), f.event.ID)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(context.Background(), v.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.target.calls)
	assert.Len(t, f.target.payloads, 1)
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrDraftNotFound)
	}
	assert.Equal(t, 1, succeeded)
}

func TestDraftService_RetryAfterFailedSubmit(t *testing.T) {
	f := newDraftFixture(t, 0)
	v, err := f.svc.OpenEdit(context.Background(), f.event.ID)
	require.NoError(t, err)

	f.target.err = errors.New("upstream down")
	_, err = f.svc.Submit(context.Background(), v.ID)
	require.Error(t, err)

	f.target.err = nil
	_, err = f.svc.Submit(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.target.calls)
}

func TestDraftService_ActivityExtendsExpiry(t *testing.T) {
	f := newDraftFixture(t, 150*time.Millisecond)
	v, err := f.svc.OpenCreate(context.Background(), f.rental.ID)
	require.NoError(t, err)

	for range 6 {
		time.Sleep(50 * time.Millisecond)
		_, err := f.svc.Get(v.ID)
		require.NoError(t, err, "an active draft must not expire")
	}
	assert.False(t, f.stager.wasPurged(v.ID))

	require.Eventually(t, func() bool { return f.stager.wasPurged(v.ID) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.svc.IsOpen(v.ID))
}

func TestDraftService_ViewHidesFeatureOfMarkedImage(t *testing.T) {
	f := newDraftFixture(t, 0)
	v, err := f.svc.OpenEdit(context.Background(), f.event.ID)
	require.NoError(t, err)

	v, err = f.svc.MarkForDeletion(v.ID, "E2")
	require.NoError(t, err)
	require.NotNil(t, v.Feature)
	assert.Equal(t, imageset.ExistingID("E1"), *v.Feature)
	for _, img := range v.Existing {
		assert.Equal(t, img.ID == "E1", img.IsFeature, img.ID)
	}
	assert.True(t, v.Existing[1].MarkedForDeletion)

	v, err = f.svc.UnmarkForDeletion(v.ID, "E2")
	require.NoError(t, err)
	assert.Equal(t, imageset.ExistingID("E1"), *v.Feature, "the current feature wins on unmark")
	assert.False(t, v.Existing[1].IsFeature)
}
