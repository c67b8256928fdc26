package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/spotifier/internal/db"
)

// ArtistReleases lists an artist's albums and singles in upstream order,
// fetching every page until the reported total is exhausted. A failed page
// is re-issued until it succeeds or ctx is done.
func (c *Client) ArtistReleases(ctx context.Context, artistID string) ([]db.ReleaseSummary, error) {
	types := []spotify.AlbumType{spotify.AlbumTypeAlbum, spotify.AlbumTypeSingle}

	var releases []db.ReleaseSummary
	for offset := 0; ; {
		var page *spotify.SimpleAlbumPage
		err := c.retry(ctx, "artist releases", func() error {
			var err error
			page, err = c.api.GetArtistAlbums(ctx, spotify.ID(artistID), types,
				spotify.Limit(pageSize), spotify.Offset(offset))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing releases for %s: %w", artistID, err)
		}

		for _, album := range page.Albums {
			releases = append(releases, db.ReleaseSummary{
				ID:   album.ID.String(),
				Name: album.Name,
				Type: album.AlbumType,
			})
		}

		offset += pageSize
		if offset >= int(page.Total) {
			break
		}
	}

	c.logger.Debug("listed artist releases", "artist", artistID, "count", len(releases))
	return releases, nil
}

// ReleaseDetail fetches the full record of a release.
func (c *Client) ReleaseDetail(ctx context.Context, releaseID string) (*db.Release, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	album, err := c.api.GetAlbum(ctx, spotify.ID(releaseID))
	if err != nil {
		return nil, fmt.Errorf("%w: getting album %s: %w", ErrRequest, releaseID, err)
	}

	rel, err := convertAlbum(album.SimpleAlbum)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// ReleaseTrackURIs returns the track URIs of a release, paginating past the
// per-call track limit.
func (c *Client) ReleaseTrackURIs(ctx context.Context, releaseID string) ([]string, error) {
	var uris []string
	for offset := 0; ; {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.api.GetAlbumTracks(ctx, spotify.ID(releaseID),
			spotify.Limit(pageSize), spotify.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("%w: getting tracks for %s: %w", ErrRequest, releaseID, err)
		}

		for _, track := range page.Tracks {
			uris = append(uris, string(track.URI))
		}

		offset += pageSize
		if offset >= int(page.Total) || len(page.Tracks) == 0 {
			break
		}
	}
	return uris, nil
}

// SearchReleases runs an album search and returns every hit attributed to
// its first listed artist. Hits without an artist are dropped. Pages are
// retried like ArtistReleases.
func (c *Client) SearchReleases(ctx context.Context, query string) ([]db.ArtistRelease, error) {
	var hits []db.ArtistRelease
	for offset := 0; ; {
		var page *spotify.SimpleAlbumPage
		err := c.retry(ctx, "search", func() error {
			result, err := c.api.Search(ctx, query, spotify.SearchTypeAlbum,
				spotify.Limit(pageSize), spotify.Offset(offset))
			if err != nil {
				return err
			}
			if result.Albums == nil {
				return fmt.Errorf("search %q returned no album page", query)
			}
			page = result.Albums
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", query, err)
		}

		for _, album := range page.Albums {
			if len(album.Artists) == 0 {
				continue
			}
			rel, err := convertAlbum(album)
			if err != nil {
				c.logger.Warn("skipping search hit", "album", album.ID, "err", err)
				continue
			}
			hits = append(hits, db.ArtistRelease{
				ArtistID:   album.Artists[0].ID.String(),
				ArtistName: album.Artists[0].Name,
				Release:    rel,
			})
		}

		offset += pageSize
		if offset >= int(page.Total) {
			break
		}
	}

	c.logger.Debug("searched releases", "query", query, "count", len(hits))
	return hits, nil
}

// SearchArtists returns the first page of an artist search. Interactive
// lookups are not retried.
func (c *Client) SearchArtists(ctx context.Context, query string) ([]db.Artist, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.api.Search(ctx, query, spotify.SearchTypeArtist, spotify.Limit(pageSize))
	if err != nil {
		return nil, fmt.Errorf("%w: searching artists %q: %w", ErrRequest, query, err)
	}
	if result.Artists == nil {
		return nil, nil
	}

	artists := make([]db.Artist, 0, len(result.Artists.Artists))
	for _, artist := range result.Artists.Artists {
		artists = append(artists, db.Artist{ID: artist.ID.String(), Name: artist.Name})
	}
	return artists, nil
}

// convertAlbum converts an upstream album into a release record. The
// category is left for the resolver to assign.
func convertAlbum(album spotify.SimpleAlbum) (db.Release, error) {
	rel := db.Release{
		ID:          album.ID.String(),
		Title:       album.Name,
		ExternalURL: album.ExternalURLs["spotify"],
	}
	if album.ReleaseDate != "" {
		date, err := parseReleaseDate(album.ReleaseDate)
		if err != nil {
			return db.Release{}, fmt.Errorf("album %s: %w", album.ID, err)
		}
		rel.ReleaseDate = date
	}
	for _, img := range album.Images {
		rel.ArtworkURLs = append(rel.ArtworkURLs, img.URL)
	}
	return rel, nil
}
