package spotify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// PlaylistExists reports whether the playlist can be read with the current
// credential. Any lookup failure counts as absent.
func (c *Client) PlaylistExists(ctx context.Context, playlistID string) bool {
	if playlistID == "" {
		return false
	}
	if err := c.wait(ctx); err != nil {
		return false
	}
	playlist, err := c.api.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		c.logger.Debug("playlist lookup failed", "playlist", playlistID, "err", err)
		return false
	}
	return playlist != nil
}

// CreatePlaylist creates a new playlist for the current user.
// Returns the playlist ID.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string, public bool) (string, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return "", err
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	playlist, err := c.api.CreatePlaylistForUser(ctx, userID, name, description, public, false)
	if err != nil {
		return "", fmt.Errorf("%w: creating playlist: %w", ErrRequest, err)
	}

	return playlist.ID.String(), nil
}

// EmptyPlaylist removes every track from a playlist. Tracks are removed by
// position from the end, at most 100 per request, each request carrying the
// snapshot id returned by the previous one.
func (c *Client) EmptyPlaylist(ctx context.Context, playlistID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	playlist, err := c.api.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		return fmt.Errorf("%w: getting playlist %s: %w", ErrRequest, playlistID, err)
	}
	snapshot := playlist.SnapshotID

	uris, err := c.playlistURIs(ctx, playlistID)
	if err != nil {
		return err
	}

	for end := len(uris); end > 0; end -= maxTracksPerRequest {
		start := max(end-maxTracksPerRequest, 0)
		batch := removalBatch(uris, start, end)
		if len(batch) == 0 {
			continue
		}

		if err := c.wait(ctx); err != nil {
			return err
		}
		snapshot, err = c.api.RemoveTracksFromPlaylistOpt(ctx, spotify.ID(playlistID), batch, snapshot)
		if err != nil {
			return fmt.Errorf("%w: removing tracks %d-%d: %w", ErrRequest, start+1, end, err)
		}
	}

	if missing := countEmpty(uris); missing > 0 {
		c.logger.Warn("items without uri left in playlist", "playlist", playlistID, "count", missing)
	}
	c.logger.Debug("emptied playlist", "playlist", playlistID, "tracks", len(uris))
	return nil
}

// playlistURIs lists the playlist's item URIs by position. Items that are
// neither a track nor an episode have an empty URI.
func (c *Client) playlistURIs(ctx context.Context, playlistID string) ([]string, error) {
	var uris []string
	for offset := 0; ; {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(maxTracksPerRequest), spotify.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("%w: listing playlist %s: %w", ErrRequest, playlistID, err)
		}

		for _, item := range page.Items {
			uris = append(uris, itemURI(item))
		}

		offset += maxTracksPerRequest
		if offset >= int(page.Total) || len(page.Items) == 0 {
			break
		}
	}
	return uris, nil
}

func itemURI(item spotify.PlaylistItem) string {
	switch {
	case item.Track.Track != nil:
		return string(item.Track.Track.URI)
	case item.Track.Episode != nil:
		return string(item.Track.Episode.URI)
	default:
		return ""
	}
}

func countEmpty(uris []string) int {
	n := 0
	for _, uri := range uris {
		if uri == "" {
			n++
		}
	}
	return n
}

// removalBatch groups the positions in [start, end) by URI, preserving
// first-seen order.
func removalBatch(uris []string, start, end int) []spotify.TrackToRemove {
	var batch []spotify.TrackToRemove
	index := make(map[string]int)
	for pos := start; pos < end; pos++ {
		uri := uris[pos]
		if uri == "" {
			continue
		}
		if i, ok := index[uri]; ok {
			batch[i].Positions = append(batch[i].Positions, pos)
			continue
		}
		index[uri] = len(batch)
		batch = append(batch, spotify.TrackToRemove{URI: uri, Positions: []int{pos}})
	}
	return batch
}

// AddTracksToPlaylist appends tracks to a playlist, handling batching for large sets.
// Spotify allows max 100 tracks per request.
func (c *Client) AddTracksToPlaylist(ctx context.Context, playlistID string, trackURIs []string) error {
	if len(trackURIs) == 0 {
		return nil
	}

	ids := make([]spotify.ID, len(trackURIs))
	for i, uri := range trackURIs {
		ids[i] = trackID(uri)
	}

	for i := 0; i < len(ids); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(ids))
		batch := ids[i:end]

		if err := c.wait(ctx); err != nil {
			return err
		}
		if _, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), batch...); err != nil {
			return fmt.Errorf("%w: adding tracks (batch %d-%d): %w", ErrRequest, i+1, end, err)
		}
	}

	return nil
}

// trackID extracts the id from a "spotify:track:<id>" URI. Bare ids pass through.
func trackID(uri string) spotify.ID {
	if i := strings.LastIndex(uri, ":"); i >= 0 {
		return spotify.ID(uri[i+1:])
	}
	return spotify.ID(uri)
}
