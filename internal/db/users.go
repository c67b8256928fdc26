package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/spotifier/internal/auth"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

const userColumns = `id, display_name, refresh_token, access_token, token_expiry,
	playlist_id, playlist_last_reset, playlist_enabled, sync_scheduled, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var expiry *time.Time
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.RefreshToken,
		&user.Credential.Token,
		&expiry,
		&user.PlaylistID,
		&user.PlaylistLastReset,
		&user.PlaylistEnabled,
		&user.SyncScheduled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiry != nil {
		user.Credential.Expiry = *expiry
	}
	return &user, nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// Upsert creates or updates a user's profile and refresh token, reading
// back the stored settings. An empty refresh token leaves the stored one in
// place.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, display_name, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), users.refresh_token),
			updated_at = NOW()
		RETURNING playlist_enabled, sync_scheduled, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.DisplayName,
		user.RefreshToken,
	).Scan(&user.PlaylistEnabled, &user.SyncScheduled, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// UpdateCredential stores a refreshed access credential. A rotated refresh
// token replaces the stored one; an empty one leaves it in place.
func (r *UserRepository) UpdateCredential(ctx context.Context, userID string, cred auth.Credential) error {
	query := `
		UPDATE users
		SET access_token = $2,
			token_expiry = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "updating credential", query, userID, cred.Token, cred.Expiry, cred.RefreshToken)
}

// UpdateSettings replaces a user's settings.
func (r *UserRepository) UpdateSettings(ctx context.Context, userID string, settings UserSettings) error {
	query := `
		UPDATE users
		SET playlist_enabled = $2, sync_scheduled = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "updating settings", query, userID, settings.PlaylistEnabled, settings.SyncScheduled)
}

// SetPlaylistID records the id of the user's new-releases playlist.
func (r *UserRepository) SetPlaylistID(ctx context.Context, userID, playlistID string) error {
	query := `
		UPDATE users
		SET playlist_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "updating playlist id", query, userID, playlistID)
}

// SetPlaylistLastReset records when the user's playlist was last reset.
func (r *UserRepository) SetPlaylistLastReset(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE users
		SET playlist_last_reset = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "updating playlist reset", query, userID, at)
}

// AddPendingRelease marks an artist's latest release as pending for a user.
// Adding an artist that is already pending is a no-op.
func (r *UserRepository) AddPendingRelease(ctx context.Context, userID, artistID string) error {
	query := `
		INSERT INTO pending_releases (user_id, artist_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, artist_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, userID, artistID); err != nil {
		return fmt.Errorf("adding pending release: %w", err)
	}
	return nil
}

// PendingReleases returns the artists whose releases are pending for a user.
func (r *UserRepository) PendingReleases(ctx context.Context, userID string) ([]Artist, error) {
	query := `
		SELECT ` + artistColumns + `
		FROM artists a
		JOIN pending_releases p ON a.id = p.artist_id
		WHERE p.user_id = $1
		ORDER BY p.added_at, a.id
	`
	return queryArtists(ctx, r.pool, query, userID)
}

// ClearPendingReleases removes the given artists from a user's pending set.
func (r *UserRepository) ClearPendingReleases(ctx context.Context, userID string, artistIDs []string) error {
	if len(artistIDs) == 0 {
		return nil
	}
	query := `DELETE FROM pending_releases WHERE user_id = $1 AND artist_id = ANY($2)`
	if _, err := r.pool.Exec(ctx, query, userID, artistIDs); err != nil {
		return fmt.Errorf("clearing pending releases: %w", err)
	}
	return nil
}

// ListWithPendingReleases returns users with playlist updates enabled, a
// refresh token and at least one pending release, ordered by id.
func (r *UserRepository) ListWithPendingReleases(ctx context.Context) ([]User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.refresh_token <> ''
		  AND u.playlist_enabled
		  AND EXISTS (SELECT 1 FROM pending_releases p WHERE p.user_id = u.id)
		ORDER BY u.id
	`
	return r.queryUsers(ctx, "users with pending releases", query)
}

// ListSyncScheduled returns users with a refresh token whose library is
// synchronized on every scheduled run, ordered by id.
func (r *UserRepository) ListSyncScheduled(ctx context.Context) ([]User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.refresh_token <> '' AND u.sync_scheduled
		ORDER BY u.id
	`
	return r.queryUsers(ctx, "scheduled-sync users", query)
}

func (r *UserRepository) queryUsers(ctx context.Context, what, query string, args ...any) ([]User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", what, err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
