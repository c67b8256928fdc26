package state

import (
	"path/filepath"
	"time"
)

// MarkerFile stores the global playlist reset marker as {"last_reset": ...}.
type MarkerFile struct {
	path string
}

type markerRecord struct {
	LastReset *time.Time `json:"last_reset,omitempty"`
}

// NewMarkerFile creates a MarkerFile at a custom path.
func NewMarkerFile(path string) *MarkerFile {
	return &MarkerFile{path: path}
}

// MarkerFileIn returns the MarkerFile inside a state directory.
func MarkerFileIn(dir string) *MarkerFile {
	return NewMarkerFile(filepath.Join(dir, markerFileName))
}

// Path returns the file path of the record.
func (f *MarkerFile) Path() string {
	return f.path
}

// Load reads the marker. The boolean is false when no marker is set,
// either because the file is missing or because it carries no last_reset.
func (f *MarkerFile) Load() (time.Time, bool, error) {
	var rec markerRecord
	ok, err := readJSON(f.path, &rec)
	if err != nil || !ok || rec.LastReset == nil {
		return time.Time{}, false, err
	}
	return *rec.LastReset, true, nil
}

// Save overwrites the marker.
func (f *MarkerFile) Save(at time.Time) error {
	return writeJSON(f.path, markerRecord{LastReset: &at})
}
