package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/synesthesie/listings/internal/config"
	"github.com/synesthesie/listings/internal/models"
	"github.com/synesthesie/listings/internal/services"
	"github.com/synesthesie/listings/internal/submission"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	store  *memStore
	cfg    *config.Config
}

// newTestEnv wires the full API against SQLite and an in-memory bucket. Draft
// submissions go over HTTP to the same router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	cfg := &config.Config{
		LocalAssetsPath:     t.TempDir(),
		UploadMaxImageSize:  1024,
		MaxImagesRental:     10,
		MaxImagesEvent:      5,
		MaxImagesPost:       2,
		ImageTitlePrefix:    "Image",
		ImageAltPlaceholder: "Listing image",
	}
	store := &memStore{objects: map[string][]byte{}}

	env := &testEnv{db: db, store: store, cfg: cfg}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	storage := services.NewStorageService(cfg)
	listingService := services.NewListingService(db)
	imageService := services.NewListingImageService(db, store, cfg)
	client := submission.NewClient(srv.URL, 10*time.Second, storage.Open)
	draftService := services.NewDraftService(cfg, listingService, imageService, storage, client)
	t.Cleanup(draftService.Close)

	env.router = gin.New()
	RegisterRoutes(env.router.Group("/api/v1"),
		NewListingHandler(listingService, imageService),
		NewDraftHandler(draftService, storage, cfg),
		func(c *gin.Context) { c.Next() },
	)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type upload struct {
	name string
	data []byte
}

func (e *testEnv) upload(t *testing.T, path string, fields map[string]string, field string, files ...upload) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) createListing(t *testing.T, kind string) models.Listing {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/listings", gin.H{"kind": kind, "title": "Loft near the park"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Listing](t, w)
}

func (e *testEnv) openDraft(t *testing.T, listingID, mode string) services.DraftView {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/drafts", gin.H{"listing_id": listingID, "mode": mode})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[services.DraftView](t, w)
}
