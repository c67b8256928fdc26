package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justestif/spotifier/internal/db"
)

func TestBatchFile_LoadMissing(t *testing.T) {
	f := BatchFileIn(t.TempDir())

	batch, err := f.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if batch != nil {
		t.Errorf("Load() = %+v, want nil", batch)
	}
}

func TestBatchFile_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	f := BatchFileIn(dir)

	synced := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	want := &db.ReleaseBatch{
		SyncDate: synced,
		Releases: map[string][]db.Release{
			"artist-a": {
				{ID: "r1", Title: "First", ReleaseDate: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)},
				{ID: "r2", Title: "Second"},
			},
		},
	}

	if err := f.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.SyncDate.Equal(synced) {
		t.Errorf("SyncDate = %v, want %v", got.SyncDate, synced)
	}
	rels := got.Releases["artist-a"]
	if len(rels) != 2 || rels[0].ID != "r1" || rels[1].ID != "r2" {
		t.Errorf("Releases = %+v, want r1 then r2", rels)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir has %d entries, want 1 (no temp files left behind)", len(entries))
	}
}

func TestBatchFile_SaveOverwrites(t *testing.T) {
	f := BatchFileIn(t.TempDir())

	first := &db.ReleaseBatch{SyncDate: time.Unix(100, 0).UTC(), Releases: map[string][]db.Release{"a": {{ID: "old"}}}}
	second := &db.ReleaseBatch{SyncDate: time.Unix(200, 0).UTC(), Releases: map[string][]db.Release{"b": {{ID: "new"}}}}
	if err := f.Save(first); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(second); err != nil {
		t.Fatal(err)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := got.Releases["a"]; ok {
		t.Error("old batch entries survived overwrite")
	}
	if len(got.Releases["b"]) != 1 {
		t.Errorf("Releases = %+v, want only b", got.Releases)
	}
}

func TestBatchFile_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"no sync date", `{"releases": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "batch.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			_, err := NewBatchFile(path).Load()
			if !errors.Is(err, db.ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestMarkerFile(t *testing.T) {
	f := MarkerFileIn(t.TempDir())

	if _, ok, err := f.Load(); err != nil || ok {
		t.Fatalf("Load() on missing file = ok %v, err %v; want false, nil", ok, err)
	}

	at := time.Date(2024, 5, 5, 23, 59, 59, 0, time.UTC)
	if err := f.Save(at); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok, err := f.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = ok %v, err %v", ok, err)
	}
	if !got.Equal(at) {
		t.Errorf("Load() = %v, want %v", got, at)
	}
}

func TestMarkerFile_EmptyRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marker.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	_, ok, err := NewMarkerFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok {
		t.Error("Load() ok = true for record without last_reset")
	}
}
