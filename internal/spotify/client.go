// Package spotify provides a rate-limited wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"
)

// Page sizes imposed by the Web API.
const (
	pageSize            = 50
	maxTracksPerRequest = 100
)

// DefaultRate is the default request rate per second.
const DefaultRate = 5

var (
	// ErrRequest wraps any failed upstream call.
	ErrRequest = errors.New("spotify request failed")

	// ErrNotAuthenticated is returned when a catalog call is made before a credential was obtained.
	ErrNotAuthenticated = errors.New("spotify client not authenticated")
)

// API is the subset of *spotify.Client used by this package.
type API interface {
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
	GetArtistAlbums(ctx context.Context, artistID spotify.ID, ts []spotify.AlbumType, opts ...spotify.RequestOption) (*spotify.SimpleAlbumPage, error)
	GetAlbum(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullAlbum, error)
	GetAlbumTracks(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.SimpleTrackPage, error)
	Search(ctx context.Context, query string, t spotify.SearchType, opts ...spotify.RequestOption) (*spotify.SearchResult, error)
	CurrentUsersTracks(ctx context.Context, opts ...spotify.RequestOption) (*spotify.SavedTrackPage, error)
	GetPlaylist(ctx context.Context, playlistID spotify.ID, opts ...spotify.RequestOption) (*spotify.FullPlaylist, error)
	GetPlaylistItems(ctx context.Context, playlistID spotify.ID, opts ...spotify.RequestOption) (*spotify.PlaylistItemPage, error)
	CreatePlaylistForUser(ctx context.Context, userID, playlistName, description string, public bool, collaborative bool) (*spotify.FullPlaylist, error)
	AddTracksToPlaylist(ctx context.Context, playlistID spotify.ID, trackIDs ...spotify.ID) (string, error)
	RemoveTracksFromPlaylistOpt(ctx context.Context, playlistID spotify.ID, tracks []spotify.TrackToRemove, snapshotID string) (string, error)
}

// Client wraps the Spotify API client with pagination, retries and rate limiting.
type Client struct {
	api     API
	limiter *rate.Limiter
	logger  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter sets the limiter every request waits on.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api API, opts ...Option) *Client {
	c := &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), 1),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewLimiter returns a limiter allowing perSecond requests per second.
// A non-positive rate disables limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// UserID returns the current user's Spotify ID.
func (c *Client) UserID(ctx context.Context) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: getting current user: %w", ErrRequest, err)
	}
	return user.ID, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.api == nil {
		return ErrNotAuthenticated
	}
	return c.limiter.Wait(ctx)
}

// retry re-issues fn until it succeeds or ctx is done. There is no backoff or
// attempt cap; only ctx bounds the loop.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := c.wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.logger.Warn("retrying request", "op", op, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// parseReleaseDate parses a release date of year, month or day precision.
// The result is midnight UTC of the first day covered.
func parseReleaseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised release date %q", s)
}
