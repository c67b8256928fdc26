package db

import (
	"fmt"
	"time"

	"github.com/justestif/spotifier/internal/auth"
)

// Category names the resolver candidate slot a release won from, not its
// upstream album type. The lead slot is always CategoryAlbum, so a
// singles-only artist whose newest release is its first listing entry is
// labelled CategoryAlbum.
type Category string

const (
	CategoryAlbum  Category = "album"
	CategorySingle Category = "single"
	CategoryEP     Category = "ep"
)

// Upstream album types as reported in catalog listings.
const (
	TypeAlbum  = "album"
	TypeSingle = "single"
)

// Release is a resolved album, single or EP.
type Release struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ReleaseDate time.Time `json:"release_date"`       // day precision, UTC
	Category    Category  `json:"category,omitempty"` // candidate slot, see Category
	ArtworkURLs []string  `json:"images,omitempty"`
	ExternalURL string    `json:"url,omitempty"`
}

// ReleaseSummary is one entry of an artist's release listing.
type ReleaseSummary struct {
	ID   string
	Name string
	Type string // upstream album type: "album", "single", ...
}

// ArtistRelease is a release attributed to its first listed artist.
type ArtistRelease struct {
	ArtistID   string
	ArtistName string
	Release    Release
}

// ReleaseBatch is the cached result of a bulk new-releases search,
// keyed by artist catalog id.
type ReleaseBatch struct {
	SyncDate time.Time            `json:"syncDate"`
	Releases map[string][]Release `json:"releases"`
}

// Artist is a catalog artist tracked by at least one user.
type Artist struct {
	ID        string   // catalog id
	Name      string
	Release   *Release // nil until resolved
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects records that cannot be written.
func (a *Artist) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: artist id is empty", ErrInvalid)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: artist %s has no name", ErrInvalid, a.ID)
	}
	if a.Release != nil && a.Release.ID == "" {
		return fmt.Errorf("%w: artist %s release has no id", ErrInvalid, a.ID)
	}
	return nil
}

// User is an account whose library is synchronized.
type User struct {
	ID                string // Spotify user id
	DisplayName       string
	RefreshToken      string
	Credential        auth.Credential
	PlaylistID        string     // empty until created
	PlaylistLastReset *time.Time // nullable
	UserSettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserSettings are the per-user switches for scheduled work.
type UserSettings struct {
	// PlaylistEnabled includes the user in the scheduled playlist updates.
	PlaylistEnabled bool `json:"playlist_enabled"`
	// SyncScheduled re-synchronizes the user's library on every scheduled run.
	SyncScheduled bool `json:"sync_scheduled"`
}

// DefaultUserSettings are the settings of a newly registered user.
func DefaultUserSettings() UserSettings {
	return UserSettings{PlaylistEnabled: true}
}

// Validate rejects records that cannot be written.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalid)
	}
	return nil
}
