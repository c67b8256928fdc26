package releases

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotifier/internal/db"
)

// DefaultTTL is how long a stored batch stays fresh.
const DefaultTTL = 24 * time.Hour

// DefaultQuery matches releases from the last two weeks.
const DefaultQuery = "tag:new"

// BatchStore persists the cached batch.
type BatchStore interface {
	Load() (*db.ReleaseBatch, error)
	Save(batch *db.ReleaseBatch) error
}

// Searcher runs the bulk release search.
type Searcher interface {
	RefreshToken(ctx context.Context) error
	SearchReleases(ctx context.Context, query string) ([]db.ArtistRelease, error)
}

// Cache is a read-through cache of the bulk new-release search. It holds no
// lock; concurrent refreshes race and the last writer wins.
type Cache struct {
	store    BatchStore
	searcher Searcher
	ttl      time.Duration
	now      func() time.Time
	logger   *log.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// NewCache creates a Cache.
func NewCache(store BatchStore, searcher Searcher, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		searcher: searcher,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewReleases returns the new releases keyed by artist id. A stored batch
// younger than the TTL is returned unchanged; otherwise the full search is
// run, grouped, stored and returned.
func (c *Cache) NewReleases(ctx context.Context, query string) (map[string][]db.Release, error) {
	now := c.now()

	batch, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading cached releases: %w", err)
	}
	if batch != nil && now.Sub(batch.SyncDate) < c.ttl {
		c.logger.Debug("using cached releases", "synced", batch.SyncDate, "artists", len(batch.Releases))
		return batch.Releases, nil
	}

	c.logger.Info("cached releases out of date, searching", "query", query)

	if err := c.searcher.RefreshToken(ctx); err != nil {
		return nil, err
	}
	hits, err := c.searcher.SearchReleases(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("searching new releases: %w", err)
	}

	batch = &db.ReleaseBatch{SyncDate: now, Releases: Group(hits)}
	if err := c.store.Save(batch); err != nil {
		return nil, fmt.Errorf("saving cached releases: %w", err)
	}

	c.logger.Info("cached new releases", "releases", len(hits), "artists", len(batch.Releases))
	return batch.Releases, nil
}

// Group buckets search hits by artist id, keeping hit order within each artist.
func Group(hits []db.ArtistRelease) map[string][]db.Release {
	grouped := make(map[string][]db.Release)
	for _, hit := range hits {
		grouped[hit.ArtistID] = append(grouped[hit.ArtistID], hit.Release)
	}
	return grouped
}
