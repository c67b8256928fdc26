package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/spotifier/internal/db"
)

// SavedTrackArtists returns the primary artist of every track in the user's
// library, in library order. Duplicates are kept; callers dedupe.
// A failed page aborts the enumeration.
func (c *Client) SavedTrackArtists(ctx context.Context) ([]db.Artist, error) {
	var artists []db.Artist
	for offset := 0; ; {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.api.CurrentUsersTracks(ctx, spotify.Limit(pageSize), spotify.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("%w: fetching saved tracks: %w", ErrRequest, err)
		}

		for _, saved := range page.Tracks {
			if artist, ok := primaryArtist(saved); ok {
				artists = append(artists, artist)
			}
		}

		c.logger.Debug("fetched saved tracks", "offset", offset, "total", page.Total)

		offset += pageSize
		if offset >= int(page.Total) || len(page.Tracks) == 0 {
			break
		}
	}
	return artists, nil
}

// primaryArtist returns the first listed artist of a saved track.
func primaryArtist(saved spotify.SavedTrack) (db.Artist, bool) {
	if len(saved.Artists) == 0 || saved.Artists[0].ID == "" {
		return db.Artist{}, false
	}
	a := saved.Artists[0]
	return db.Artist{ID: a.ID.String(), Name: a.Name}, true
}
