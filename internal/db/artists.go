package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistRepository handles artist and user-artist association operations.
type ArtistRepository struct {
	pool *pgxpool.Pool
}

const artistColumns = `a.id, a.name, a.release_id, a.release_title, a.release_date,
	a.release_category, a.release_images, a.release_url, a.created_at, a.updated_at`

func scanArtist(row pgx.Row) (*Artist, error) {
	var (
		artist   Artist
		id       *string
		title    *string
		date     *time.Time
		category *string
		images   []string
		url      *string
	)
	err := row.Scan(
		&artist.ID,
		&artist.Name,
		&id,
		&title,
		&date,
		&category,
		&images,
		&url,
		&artist.CreatedAt,
		&artist.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if id != nil {
		rel := &Release{ID: *id, ArtworkURLs: images}
		if title != nil {
			rel.Title = *title
		}
		if date != nil {
			rel.ReleaseDate = *date
		}
		if category != nil {
			rel.Category = Category(*category)
		}
		if url != nil {
			rel.ExternalURL = *url
		}
		artist.Release = rel
	}
	return &artist, nil
}

func queryArtists(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]Artist, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artists: %w", err)
	}
	defer rows.Close()

	var artists []Artist
	for rows.Next() {
		artist, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artist: %w", err)
		}
		artists = append(artists, *artist)
	}
	return artists, rows.Err()
}

// Get retrieves an artist by catalog id.
func (r *ArtistRepository) Get(ctx context.Context, id string) (*Artist, error) {
	query := `SELECT ` + artistColumns + ` FROM artists a WHERE a.id = $1`
	artist, err := scanArtist(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist: %w", err)
	}
	return artist, nil
}

// Create inserts an artist. Inserting an artist that already exists leaves
// the stored record unchanged.
func (r *ArtistRepository) Create(ctx context.Context, artist *Artist) error {
	if err := artist.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO artists (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, artist.ID, artist.Name); err != nil {
		return fmt.Errorf("inserting artist: %w", err)
	}
	if artist.Release != nil {
		return r.UpdateRelease(ctx, artist.ID, artist.Release)
	}
	return nil
}

// UpdateRelease replaces the artist's most recent release.
func (r *ArtistRepository) UpdateRelease(ctx context.Context, artistID string, rel *Release) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("%w: release for artist %s has no id", ErrInvalid, artistID)
	}

	query := `
		UPDATE artists SET
			release_id = $2,
			release_title = $3,
			release_date = $4,
			release_category = $5,
			release_images = $6,
			release_url = $7,
			updated_at = NOW()
		WHERE id = $1
	`
	var date *time.Time
	if !rel.ReleaseDate.IsZero() {
		date = &rel.ReleaseDate
	}
	result, err := r.pool.Exec(ctx, query,
		artistID,
		rel.ID,
		rel.Title,
		date,
		string(rel.Category),
		rel.ArtworkURLs,
		rel.ExternalURL,
	)
	if err != nil {
		return fmt.Errorf("updating artist release: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Associate records that a user tracks an artist. Associating twice is a no-op.
func (r *ArtistRepository) Associate(ctx context.Context, userID, artistID string) error {
	query := `
		INSERT INTO user_artists (user_id, artist_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, artist_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, userID, artistID); err != nil {
		return fmt.Errorf("associating artist: %w", err)
	}
	return nil
}

// Dissociate removes a user's tracking of an artist along with any pending
// release for it. Dissociating an untracked artist is a no-op.
func (r *ArtistRepository) Dissociate(ctx context.Context, userID, artistID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_artists WHERE user_id = $1 AND artist_id = $2`, userID, artistID); err != nil {
		return fmt.Errorf("dissociating artist: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pending_releases WHERE user_id = $1 AND artist_id = $2`, userID, artistID); err != nil {
		return fmt.Errorf("removing pending release: %w", err)
	}
	return tx.Commit(ctx)
}

// Library returns every artist a user tracks, ordered by name.
func (r *ArtistRepository) Library(ctx context.Context, userID string) ([]Artist, error) {
	query := `
		SELECT ` + artistColumns + `
		FROM artists a
		JOIN user_artists ua ON a.id = ua.artist_id
		WHERE ua.user_id = $1
		ORDER BY a.name, a.id
	`
	return queryArtists(ctx, r.pool, query, userID)
}

// ListTracked returns every artist tracked by at least one user.
func (r *ArtistRepository) ListTracked(ctx context.Context) ([]Artist, error) {
	query := `
		SELECT ` + artistColumns + `
		FROM artists a
		WHERE EXISTS (SELECT 1 FROM user_artists ua WHERE ua.artist_id = a.id)
		ORDER BY a.id
	`
	return queryArtists(ctx, r.pool, query)
}

// TrackingUsers returns the ids of users tracking an artist.
func (r *ArtistRepository) TrackingUsers(ctx context.Context, artistID string) ([]string, error) {
	query := `SELECT user_id FROM user_artists WHERE artist_id = $1 ORDER BY user_id`
	rows, err := r.pool.Query(ctx, query, artistID)
	if err != nil {
		return nil, fmt.Errorf("querying tracking users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
