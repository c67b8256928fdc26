package state

import (
	"fmt"
	"path/filepath"

	"github.com/justestif/spotifier/internal/db"
)

// BatchFile stores the cached new-release batch as a single JSON record.
type BatchFile struct {
	path string
}

// NewBatchFile creates a BatchFile at a custom path.
func NewBatchFile(path string) *BatchFile {
	return &BatchFile{path: path}
}

// BatchFileIn returns the BatchFile inside a state directory.
func BatchFileIn(dir string) *BatchFile {
	return NewBatchFile(filepath.Join(dir, batchFileName))
}

// Path returns the file path of the record.
func (f *BatchFile) Path() string {
	return f.path
}

// Load reads the stored batch.
// Returns (nil, nil) if no batch has been stored.
func (f *BatchFile) Load() (*db.ReleaseBatch, error) {
	var batch db.ReleaseBatch
	ok, err := readJSON(f.path, &batch)
	if err != nil || !ok {
		return nil, err
	}
	if batch.SyncDate.IsZero() {
		return nil, fmt.Errorf("%w: %s has no syncDate", db.ErrInvalid, batchFileName)
	}
	if batch.Releases == nil {
		batch.Releases = map[string][]db.Release{}
	}
	return &batch, nil
}

// Save overwrites the stored batch.
func (f *BatchFile) Save(batch *db.ReleaseBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: nil release batch", db.ErrInvalid)
	}
	return writeJSON(f.path, batch)
}
