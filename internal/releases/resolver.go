// Package releases determines each artist's most recent release and caches
// the bulk new-release search.
package releases

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotifier/internal/db"
)

// Catalog is the catalog access the resolver needs.
type Catalog interface {
	RefreshToken(ctx context.Context) error
	ArtistReleases(ctx context.Context, artistID string) ([]db.ReleaseSummary, error)
	ReleaseDetail(ctx context.Context, releaseID string) (*db.Release, error)
}

// Resolver picks an artist's most recent release.
type Resolver struct {
	catalog Catalog
	logger  *log.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(catalog Catalog, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// candidate is a listing entry selected for a detail fetch.
type candidate struct {
	index    int
	category db.Category
}

// candidates walks a listing ordered albums first, then singles, then EPs
// (which the catalog reports with the album type). Entry 0 is always the
// album candidate, whatever its upstream type. The first single after the leading albums is the single
// candidate, and the first album-type entry after that run of singles is
// the EP candidate.
//
// Only the head of each group is examined, so a later EP or album deeper
// in the listing is never considered.
func candidates(listing []db.ReleaseSummary) []candidate {
	if len(listing) == 0 {
		return nil
	}

	found := []candidate{{index: 0, category: db.CategoryAlbum}}

	i := 1
	for i < len(listing) && listing[i].Type == db.TypeAlbum {
		i++
	}
	if i >= len(listing) || listing[i].Type != db.TypeSingle {
		return found
	}
	found = append(found, candidate{index: i, category: db.CategorySingle})

	for i < len(listing) && listing[i].Type == db.TypeSingle {
		i++
	}
	if i < len(listing) && listing[i].Type == db.TypeAlbum {
		found = append(found, candidate{index: i, category: db.CategoryEP})
	}
	return found
}

// Resolve returns the artist's most recent release, or nil if the artist has
// none. The winner is the candidate with the strictly latest release date;
// on a tie the earlier candidate (album, then single, then EP) is kept.
// Any failed fetch fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, artist db.Artist) (*db.Release, error) {
	if err := r.catalog.RefreshToken(ctx); err != nil {
		return nil, err
	}

	listing, err := r.catalog.ArtistReleases(ctx, artist.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", artist.ID, err)
	}

	var best *db.Release
	for _, c := range candidates(listing) {
		rel, err := r.catalog.ReleaseDetail(ctx, listing[c.index].ID)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", artist.ID, err)
		}
		rel.Category = c.category

		if best == nil || rel.ReleaseDate.After(best.ReleaseDate) {
			best = rel
		}
	}

	if best == nil {
		r.logger.Debug("artist has no releases", "artist", artist.ID)
		return nil, nil
	}
	r.logger.Debug("resolved release", "artist", artist.ID, "release", best.ID, "category", best.Category)
	return best, nil
}
