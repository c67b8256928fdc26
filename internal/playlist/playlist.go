// Package playlist reconciles each user's new-releases playlist with the
// releases pending for them.
package playlist

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotifier/internal/auth"
	"github.com/justestif/spotifier/internal/db"
	"github.com/justestif/spotifier/internal/notify"
)

// UserStore reads and updates the user fields reconciliation touches.
type UserStore interface {
	Get(ctx context.Context, id string) (*db.User, error)
	UpdateCredential(ctx context.Context, userID string, cred auth.Credential) error
	SetPlaylistID(ctx context.Context, userID, playlistID string) error
	SetPlaylistLastReset(ctx context.Context, userID string, at time.Time) error
	PendingReleases(ctx context.Context, userID string) ([]db.Artist, error)
	ClearPendingReleases(ctx context.Context, userID string, artistIDs []string) error
}

// Client performs playlist operations on behalf of a user.
type Client interface {
	PlaylistExists(ctx context.Context, playlistID string) bool
	CreatePlaylist(ctx context.Context, name, description string, public bool) (string, error)
	EmptyPlaylist(ctx context.Context, playlistID string) error
	AddTracksToPlaylist(ctx context.Context, playlistID string, trackURIs []string) error
}

// ConnectFunc returns a Client acting with a user access token.
type ConnectFunc func(ctx context.Context, accessToken string) Client

// TrackSource looks up the tracks of a release.
type TrackSource interface {
	RefreshToken(ctx context.Context) error
	ReleaseTrackURIs(ctx context.Context, releaseID string) ([]string, error)
}

// Settings describe the playlist created for each user.
type Settings struct {
	Title       string
	Description string
	Public      bool
}

// DefaultSettings returns the default playlist settings.
func DefaultSettings() Settings {
	return Settings{
		Title:       "Spotifier New Releases",
		Description: "New releases from the artists in your library, refreshed weekly.",
	}
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Users     UserStore
	Refresher auth.TokenRefresher
	Connect   ConnectFunc
	Tracks    TrackSource
	Marker    MarkerStore
}

// Reconciler drives each user's playlist through existence, reset and
// population.
type Reconciler struct {
	Deps
	settings Settings
	sink     notify.Sink
	now      func() time.Time
	logger   *log.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSettings sets the playlist settings.
func WithSettings(s Settings) Option {
	return func(r *Reconciler) {
		r.settings = s
	}
}

// WithSink sets the sink notified after each update.
func WithSink(s notify.Sink) Option {
	return func(r *Reconciler) {
		r.sink = s
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New creates a Reconciler.
func New(deps Deps, opts ...Option) *Reconciler {
	r := &Reconciler{
		Deps:     deps,
		settings: DefaultSettings(),
		sink:     notify.Nop{},
		now:      time.Now,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpdatePlaylist brings the user's playlist up to date: it creates the
// playlist if it cannot be found, empties it when a new playlist week has
// started, then appends the tracks of every pending release. A user with no
// recorded reset has the current marker recorded and is not emptied. Any
// failure aborts the update for this user. Callers must not run two updates
// for the same user at once.
func (r *Reconciler) UpdatePlaylist(ctx context.Context, userID string) error {
	now := r.now()

	user, err := r.Users.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("getting user %s: %w", userID, err)
	}
	logger := r.logger.With("user", user.ID)

	cred, err := auth.Ensure(ctx, r.Refresher, r.Users, user.ID, user.RefreshToken, user.Credential, now)
	if err != nil {
		return err
	}
	user.Credential = cred
	client := r.Connect(ctx, cred.Token)

	if !client.PlaylistExists(ctx, user.PlaylistID) {
		id, err := client.CreatePlaylist(ctx, r.settings.Title, r.settings.Description, r.settings.Public)
		if err != nil {
			return fmt.Errorf("creating playlist: %w", err)
		}
		if err := r.Users.SetPlaylistID(ctx, user.ID, id); err != nil {
			return fmt.Errorf("saving playlist id: %w", err)
		}
		logger.Info("created playlist", "playlist", id)
		user.PlaylistID = id
	}

	if err := r.checkReset(ctx, client, user, now); err != nil {
		return err
	}

	released, err := r.populate(ctx, client, user)
	if err != nil {
		return err
	}

	if err := r.sink.PlaylistUpdated(ctx, user, released); err != nil {
		logger.Warn("playlist notification failed", "err", err)
	}
	logger.Info("playlist updated", "playlist", user.PlaylistID, "releases", len(released))
	return nil
}

// checkReset empties the playlist when a reset is due and records the
// marker as the user's last reset.
func (r *Reconciler) checkReset(ctx context.Context, client Client, user *db.User, now time.Time) error {
	marker, err := CurrentMarker(r.Marker, now)
	if err != nil {
		return err
	}

	if user.PlaylistLastReset == nil {
		if err := r.Users.SetPlaylistLastReset(ctx, user.ID, marker); err != nil {
			return fmt.Errorf("recording first reset: %w", err)
		}
		user.PlaylistLastReset = &marker
		r.logger.Debug("first reconciliation, reset skipped", "user", user.ID)
		return nil
	}

	if !ResetDue(*user.PlaylistLastReset, marker, now) {
		r.logger.Debug("playlist reset not needed", "user", user.ID)
		return nil
	}

	r.logger.Info("playlist reset needed, emptying", "user", user.ID, "marker", marker)
	if err := client.EmptyPlaylist(ctx, user.PlaylistID); err != nil {
		return fmt.Errorf("emptying playlist: %w", err)
	}
	if err := r.Users.SetPlaylistLastReset(ctx, user.ID, marker); err != nil {
		return fmt.Errorf("recording reset: %w", err)
	}
	user.PlaylistLastReset = &marker
	return nil
}

// populate appends the tracks of every pending release and clears those
// artists from the pending set. Artists without a stored release stay pending.
// Returns the artists whose releases were added.
func (r *Reconciler) populate(ctx context.Context, client Client, user *db.User) ([]db.Artist, error) {
	pending, err := r.Users.PendingReleases(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("getting pending releases: %w", err)
	}

	var released []db.Artist
	for _, a := range pending {
		if a.Release != nil {
			released = append(released, a)
		}
	}
	if len(released) == 0 {
		return nil, nil
	}

	if err := r.Tracks.RefreshToken(ctx); err != nil {
		return nil, err
	}

	var uris []string
	ids := make([]string, 0, len(released))
	for _, a := range released {
		tracks, err := r.Tracks.ReleaseTrackURIs(ctx, a.Release.ID)
		if err != nil {
			return nil, fmt.Errorf("getting tracks for %s: %w", a.ID, err)
		}
		uris = append(uris, tracks...)
		ids = append(ids, a.ID)
	}

	if err := client.AddTracksToPlaylist(ctx, user.PlaylistID, uris); err != nil {
		return nil, fmt.Errorf("adding releases: %w", err)
	}
	if err := r.Users.ClearPendingReleases(ctx, user.ID, ids); err != nil {
		return nil, fmt.Errorf("clearing pending releases: %w", err)
	}
	return released, nil
}
