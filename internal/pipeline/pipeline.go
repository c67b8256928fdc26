// Package pipeline runs the bulk new-release job: it refreshes the cached
// release search, re-resolves the tracked artists found in it, marks changed
// releases as pending for their users and reconciles every affected playlist.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotifier/internal/db"
	"github.com/justestif/spotifier/internal/jobs"
	"github.com/justestif/spotifier/internal/library"
	"github.com/justestif/spotifier/internal/releases"
)

// ReleaseCache returns the cached new releases keyed by artist id.
type ReleaseCache interface {
	NewReleases(ctx context.Context, query string) (map[string][]db.Release, error)
}

// Resolver finds an artist's most recent release.
type Resolver interface {
	Resolve(ctx context.Context, artist db.Artist) (*db.Release, error)
}

// ArtistStore reads tracked artists and stores resolved releases.
type ArtistStore interface {
	ListTracked(ctx context.Context) ([]db.Artist, error)
	UpdateRelease(ctx context.Context, artistID string, rel *db.Release) error
	TrackingUsers(ctx context.Context, artistID string) ([]string, error)
}

// UserStore manages users' pending releases and lists the users due for
// scheduled work.
type UserStore interface {
	AddPendingRelease(ctx context.Context, userID, artistID string) error
	ListWithPendingReleases(ctx context.Context) ([]db.User, error)
	ListSyncScheduled(ctx context.Context) ([]db.User, error)
}

// Reconciler updates one user's playlist.
type Reconciler interface {
	UpdatePlaylist(ctx context.Context, userID string) error
}

// LibrarySyncer synchronizes one user's library.
type LibrarySyncer interface {
	SyncLibrary(ctx context.Context, userID string) (*library.SyncResult, error)
}

// Deps are the collaborators of a Runner. InFlight is shared with every
// other path that works on a single user; nil gets a private guard.
type Deps struct {
	Cache      ReleaseCache
	Resolver   Resolver
	Artists    ArtistStore
	Users      UserStore
	Reconciler Reconciler
	Library    LibrarySyncer
	InFlight   *jobs.InFlight
}

// Runner runs the bulk new-release job.
type Runner struct {
	Deps
	query  string
	now    func() time.Time
	logger *log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithQuery sets the new-release search query.
func WithQuery(q string) Option {
	return func(r *Runner) {
		if q != "" {
			r.query = q
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// New creates a Runner.
func New(deps Deps, opts ...Option) *Runner {
	r := &Runner{
		Deps:   deps,
		query:  releases.DefaultQuery,
		now:    time.Now,
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.InFlight == nil {
		r.InFlight = jobs.NewInFlight()
	}
	return r
}

// Summary reports what a run did.
type Summary struct {
	Candidates       int // tracked artists present in the new-release batch
	Changed          int // artists whose most recent release changed
	ResolveFailed    int
	Reconciled       int
	ReconcileFailed  int
	ReconcileSkipped int // users busy with another job, left pending
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Tally counts the outcome of per-user work.
type Tally struct {
	OK      int
	Failed  int
	Skipped int
}

// Run executes the bulk job. Artists are resolved one at a time and users
// are reconciled one at a time; a failure for one artist or user is logged
// and counted without stopping the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: r.now()}

	batch, err := r.Cache.NewReleases(ctx, r.query)
	if err != nil {
		return nil, fmt.Errorf("getting new releases: %w", err)
	}

	tracked, err := r.Artists.ListTracked(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tracked artists: %w", err)
	}

	for _, artist := range tracked {
		if _, ok := batch[artist.ID]; !ok {
			continue
		}
		summary.Candidates++

		changed, err := r.refreshArtist(ctx, artist)
		if err != nil {
			summary.ResolveFailed++
			r.logger.Warn("refreshing artist failed", "artist", artist.ID, "err", err)
			continue
		}
		if changed {
			summary.Changed++
		}
	}

	tally, err := r.ReconcileAll(ctx)
	if err != nil {
		return nil, err
	}
	summary.Reconciled, summary.ReconcileFailed, summary.ReconcileSkipped = tally.OK, tally.Failed, tally.Skipped
	summary.FinishedAt = r.now()

	r.logger.Info("new-release run finished",
		"candidates", summary.Candidates,
		"changed", summary.Changed,
		"resolve_failed", summary.ResolveFailed,
		"reconciled", summary.Reconciled,
		"reconcile_failed", summary.ReconcileFailed,
		"reconcile_skipped", summary.ReconcileSkipped,
		"took", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}

// refreshArtist re-resolves an artist and, when its most recent release
// changed, stores it and marks it pending for every tracking user.
func (r *Runner) refreshArtist(ctx context.Context, artist db.Artist) (bool, error) {
	rel, err := r.Resolver.Resolve(ctx, artist)
	if err != nil {
		return false, err
	}
	if rel == nil || (artist.Release != nil && artist.Release.ID == rel.ID) {
		return false, nil
	}

	if err := r.Artists.UpdateRelease(ctx, artist.ID, rel); err != nil {
		return false, fmt.Errorf("storing release: %w", err)
	}

	users, err := r.Artists.TrackingUsers(ctx, artist.ID)
	if err != nil {
		return false, fmt.Errorf("listing tracking users: %w", err)
	}
	for _, userID := range users {
		if err := r.Users.AddPendingRelease(ctx, userID, artist.ID); err != nil {
			return false, fmt.Errorf("marking release pending for %s: %w", userID, err)
		}
	}

	r.logger.Info("new release", "artist", artist.ID, "release", rel.ID, "users", len(users))
	return true, nil
}

// ReconcileAll updates the playlist of every user with pending releases,
// strictly one after another. A user already busy with another job is
// skipped and keeps its pending releases for the next run.
func (r *Runner) ReconcileAll(ctx context.Context) (Tally, error) {
	users, err := r.Users.ListWithPendingReleases(ctx)
	if err != nil {
		return Tally{}, fmt.Errorf("listing users with pending releases: %w", err)
	}
	r.logger.Info("reconciling playlists", "users", len(users))

	return r.eachUser(ctx, "playlist", users, func(ctx context.Context, userID string) error {
		return r.Reconciler.UpdatePlaylist(ctx, userID)
	})
}

// SyncScheduled synchronizes the library of every user with scheduled sync
// enabled, one after another. Busy users are skipped like ReconcileAll.
func (r *Runner) SyncScheduled(ctx context.Context) (Tally, error) {
	users, err := r.Users.ListSyncScheduled(ctx)
	if err != nil {
		return Tally{}, fmt.Errorf("listing scheduled-sync users: %w", err)
	}
	if len(users) == 0 {
		return Tally{}, nil
	}
	r.logger.Info("syncing scheduled libraries", "users", len(users))

	tally, err := r.eachUser(ctx, "sync", users, func(ctx context.Context, userID string) error {
		_, err := r.Library.SyncLibrary(ctx, userID)
		return err
	})
	r.logger.Info("scheduled sync finished", "ok", tally.OK, "failed", tally.Failed, "skipped", tally.Skipped)
	return tally, err
}

// eachUser runs work for each user on a single-worker queue, holding the
// user's in-flight slot for the duration.
func (r *Runner) eachUser(ctx context.Context, kind string, users []db.User, work func(ctx context.Context, userID string) error) (Tally, error) {
	var tally Tally
	queue := jobs.NewQueue(ctx, 1, jobs.WithLogger(r.logger))
	for _, user := range users {
		busy := false
		_, err := queue.Submit(ctx, kind+" "+user.ID, func(ctx context.Context) error {
			if _, ok := r.InFlight.Acquire(user.ID); !ok {
				busy = true
				r.logger.Info("user busy, skipping", "user", user.ID, "job", kind)
				return nil
			}
			defer r.InFlight.Release(user.ID)
			return work(ctx, user.ID)
		}, func(err error) {
			switch {
			case err != nil:
				tally.Failed++
			case busy:
				tally.Skipped++
			default:
				tally.OK++
			}
		})
		if err != nil {
			queue.Close()
			return tally, fmt.Errorf("scheduling %s job: %w", kind, err)
		}
	}
	queue.Close()

	return tally, nil
}
