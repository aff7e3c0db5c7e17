package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/synesthesie/listings/internal/config"
)

const stagingPrefix = "staging"

// StorageService keeps picked images on local disk until their draft is
// submitted or discarded. Staged files are addressed by slash-separated keys
// relative to LocalAssetsPath.
type StorageService struct {
	root string
}

func NewStorageService(cfg *config.Config) *StorageService {
	// ensure local path exists
	_ = os.MkdirAll(cfg.LocalAssetsPath, 0o755)
	return &StorageService{root: cfg.LocalAssetsPath}
}

// BuildStagingKey creates a unique key for a staged file of a draft
func (s *StorageService) BuildStagingKey(draftID uuid.UUID, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return path.Join(stagingPrefix, draftID.String(), uuid.New().String()+ext)
}

// SaveStream writes r under key and returns the size and sha256 checksum.
// The file only appears under its final name once fully written.
func (s *StorageService) SaveStream(ctx context.Context, key string, r io.Reader) (int64, string, error) {
	absPath, err := s.AbsPath(key)
	if err != nil {
		return 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return 0, "", err
	}

	tmp := absPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		_ = os.Remove(tmp)
		return 0, "", err
	}

	if err := f.Sync(); err != nil {
		_ = os.Remove(tmp)
		return 0, "", err
	}

	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return 0, "", err
	}

	log.Ctx(ctx).Debug().Str("key", key).Int64("bytes", n).Msg("file staged")
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open opens a staged file for reading.
func (s *StorageService) Open(key string) (io.ReadCloser, error) {
	absPath, err := s.AbsPath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(absPath)
}

// Remove deletes a staged file. Missing files are not an error.
func (s *StorageService) Remove(key string) error {
	absPath, err := s.AbsPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeDraft removes every file staged for a draft.
func (s *StorageService) PurgeDraft(draftID uuid.UUID) error {
	return os.RemoveAll(filepath.Join(s.root, stagingPrefix, draftID.String()))
}

// SweepStaging removes the staging directories of drafts that are no longer
// open and were last modified more than maxAge ago. It returns the number of
// directories removed.
func (s *StorageService) SweepStaging(maxAge time.Duration, isOpen func(draftID uuid.UUID) bool) (int, error) {
	dir := filepath.Join(s.root, stagingPrefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		id, err := uuid.Parse(e.Name())
		if err != nil || !e.IsDir() || isOpen(id) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("draft_id", e.Name()).Msg("failed to sweep staging directory")
			continue
		}
		removed++
	}
	return removed, nil
}

// AbsPath resolves a key below the storage root. Keys that escape the root
// are rejected.
func (s *StorageService) AbsPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
