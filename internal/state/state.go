// Package state persists the process-wide records kept outside the database:
// the cached new-release batch and the global playlist reset marker.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/justestif/spotifier/internal/db"
)

const (
	appDirName     = "spotifier"
	batchFileName  = "cached-new-releases.json"
	markerFileName = "playlist-reset-date.json"
)

// DefaultDir returns the default state directory: ~/.cache/spotifier
func DefaultDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting user cache dir: %w", err)
	}
	return filepath.Join(cacheDir, appDirName), nil
}

// readJSON decodes the file at path into v.
// Returns false if the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: parsing %s: %v", db.ErrInvalid, filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON replaces the file at path with the indented encoding of v.
// The record is written to a temporary file first and renamed into place,
// so readers never observe a partial write.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
