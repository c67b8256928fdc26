// Package library synchronizes a user's saved tracks into the shared set of
// tracked artists.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/justestif/spotifier/internal/auth"
	"github.com/justestif/spotifier/internal/db"
	"github.com/justestif/spotifier/internal/notify"
)

// UserStore reads users and persists refreshed credentials.
type UserStore interface {
	Get(ctx context.Context, id string) (*db.User, error)
	UpdateCredential(ctx context.Context, userID string, cred auth.Credential) error
}

// ArtistStore manages artists and their association with users.
type ArtistStore interface {
	Get(ctx context.Context, id string) (*db.Artist, error)
	Create(ctx context.Context, artist *db.Artist) error
	UpdateRelease(ctx context.Context, artistID string, rel *db.Release) error
	Associate(ctx context.Context, userID, artistID string) error
	Dissociate(ctx context.Context, userID, artistID string) error
	Library(ctx context.Context, userID string) ([]db.Artist, error)
}

// Reader enumerates the primary artists of a user's saved tracks.
type Reader interface {
	SavedTrackArtists(ctx context.Context) ([]db.Artist, error)
}

// ConnectFunc returns a Reader acting with a user access token.
type ConnectFunc func(ctx context.Context, accessToken string) Reader

// Resolver finds an artist's most recent release.
type Resolver interface {
	Resolve(ctx context.Context, artist db.Artist) (*db.Release, error)
}

// Submitter schedules background work.
type Submitter interface {
	Submit(ctx context.Context, name string, run func(ctx context.Context) error, done func(err error)) (uuid.UUID, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Users     UserStore
	Artists   ArtistStore
	Refresher auth.TokenRefresher
	Connect   ConnectFunc
	Resolver  Resolver
	Jobs      Submitter
}

// Service handles syncing a user's library from Spotify to the database.
type Service struct {
	Deps
	sink   notify.Sink
	now    func() time.Time
	logger *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSink sets the sink notified after each sync.
func WithSink(s notify.Sink) Option {
	return func(svc *Service) {
		svc.sink = s
	}
}

// WithClock sets the time source used for credential expiry.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		svc.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(svc *Service) {
		svc.logger = l
	}
}

// New creates a new library service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		Deps:   deps,
		sink:   notify.Nop{},
		now:    time.Now,
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncResult contains the result of a library sync.
type SyncResult struct {
	Artists    int   // unique artists found in saved tracks
	Added      int   // artists new to the shared set
	Associated int   // already-known artists linked to the user
	Failed     int   // artists that could not be stored or linked
	Err        error // joined per-artist failures, nil if none
	SyncedAt   time.Time
}

// SyncLibrary stores the primary artist of every saved track and links it
// to the user. Newly seen artists are stored without a release and their
// release is resolved by a background job. Failures for individual artists
// are logged and reported in the result without failing the sync.
func (s *Service) SyncLibrary(ctx context.Context, userID string) (*SyncResult, error) {
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", userID, err)
	}

	logger := s.logger.With("user", user.ID)

	cred, err := auth.Ensure(ctx, s.Refresher, s.Users, user.ID, user.RefreshToken, user.Credential, s.now())
	if err != nil {
		return nil, err
	}
	user.Credential = cred

	saved, err := s.Connect(ctx, cred.Token).SavedTrackArtists(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching saved tracks: %w", err)
	}

	unique := Dedupe(saved)
	result := &SyncResult{Artists: len(unique)}
	logger.Info("syncing library", "tracks", len(saved), "artists", len(unique))

	var errs []error
	for _, artist := range unique {
		added, err := s.addArtist(ctx, user.ID, artist)
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			logger.Warn("adding artist failed", "artist", artist.ID, "err", err)
			continue
		}
		if added {
			result.Added++
		} else {
			result.Associated++
		}
	}
	result.Err = errors.Join(errs...)
	result.SyncedAt = s.now()

	library, err := s.Artists.Library(ctx, user.ID)
	if err != nil {
		logger.Warn("reading library failed", "err", err)
	} else if err := s.sink.LibraryAdded(ctx, user, library); err != nil {
		logger.Warn("library notification failed", "err", err)
	}

	logger.Info("library synced", "added", result.Added, "associated", result.Associated, "failed", result.Failed)
	return result, nil
}

// addArtist links an artist to the user, creating it first if it is new.
// Reports whether the artist was new.
func (s *Service) addArtist(ctx context.Context, userID string, artist db.Artist) (bool, error) {
	_, err := s.Artists.Get(ctx, artist.ID)
	if err == nil {
		if err := s.Artists.Associate(ctx, userID, artist.ID); err != nil {
			return false, fmt.Errorf("artist %s: %w", artist.ID, err)
		}
		return false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return false, fmt.Errorf("artist %s: %w", artist.ID, err)
	}

	placeholder := db.Artist{ID: artist.ID, Name: artist.Name}
	if err := s.Artists.Create(ctx, &placeholder); err != nil {
		return false, fmt.Errorf("artist %s: %w", artist.ID, err)
	}
	if err := s.Artists.Associate(ctx, userID, artist.ID); err != nil {
		return false, fmt.Errorf("artist %s: %w", artist.ID, err)
	}

	_, err = s.Jobs.Submit(ctx, "resolve "+artist.ID, func(ctx context.Context) error {
		return s.ResolveArtist(ctx, placeholder)
	}, nil)
	if err != nil {
		return false, fmt.Errorf("scheduling release lookup for %s: %w", artist.ID, err)
	}
	return true, nil
}

// AddArtist tracks a single artist for a user, as picked from a search.
// Reports whether the artist was new to the shared set.
func (s *Service) AddArtist(ctx context.Context, userID string, artist db.Artist) (bool, error) {
	if err := artist.Validate(); err != nil {
		return false, err
	}
	if _, err := s.Users.Get(ctx, userID); err != nil {
		return false, fmt.Errorf("getting user %s: %w", userID, err)
	}

	added, err := s.addArtist(ctx, userID, db.Artist{ID: artist.ID, Name: artist.Name})
	if err != nil {
		return false, err
	}
	s.logger.Info("artist added", "user", userID, "artist", artist.ID, "new", added)
	return added, nil
}

// ResolveArtist resolves an artist's most recent release and stores it.
// Artists without releases are left unchanged.
func (s *Service) ResolveArtist(ctx context.Context, artist db.Artist) error {
	rel, err := s.Resolver.Resolve(ctx, artist)
	if err != nil {
		return err
	}
	if rel == nil {
		return nil
	}
	if err := s.Artists.UpdateRelease(ctx, artist.ID, rel); err != nil {
		return fmt.Errorf("storing release for %s: %w", artist.ID, err)
	}
	s.logger.Debug("stored release", "artist", artist.ID, "release", rel.ID)
	return nil
}

// RemoveArtist stops tracking an artist for a user. Removing an artist the
// user does not track is a no-op.
func (s *Service) RemoveArtist(ctx context.Context, userID, artistID string) error {
	if err := s.Artists.Dissociate(ctx, userID, artistID); err != nil {
		return fmt.Errorf("removing artist %s: %w", artistID, err)
	}
	return nil
}

// Library returns the artists a user tracks.
func (s *Service) Library(ctx context.Context, userID string) ([]db.Artist, error) {
	artists, err := s.Artists.Library(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting library: %w", err)
	}
	return artists, nil
}

// Dedupe removes repeated artist ids, keeping first-seen order.
func Dedupe(artists []db.Artist) []db.Artist {
	seen := make(map[string]bool, len(artists))
	unique := make([]db.Artist, 0, len(artists))
	for _, a := range artists {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		unique = append(unique, a)
	}
	return unique
}
