// Package auth manages the Spotify access credentials used on behalf of users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// ExpiryMargin is how long before its expiry a credential is treated as
// expired. It absorbs clock skew and the latency of in-flight requests.
const ExpiryMargin = 60 * time.Second

var (
	// ErrMissingCredentials is returned when the Spotify client id or secret is not set.
	ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET")

	// ErrNoRefreshToken is returned when a user has no refresh token on record.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed is returned when a credential grant or refresh is rejected.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Scopes are the permissions the application requests from users.
var Scopes = []string{
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
}

// Credential is a bearer token and the instant it stops being accepted.
// RefreshToken is set only when a refresh rotated the user's refresh token.
type Credential struct {
	Token        string    `json:"token"`
	Expiry       time.Time `json:"expiry"`
	RefreshToken string    `json:"-"`
}

// IsExpired reports whether the credential must be refreshed before use at now.
// An empty credential is always expired.
func (c Credential) IsExpired(now time.Time) bool {
	if c.Token == "" || c.Expiry.IsZero() {
		return true
	}
	return c.Expiry.Sub(now) < ExpiryMargin
}

// TokenRefresher exchanges a user's refresh token for a new access credential.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// CredentialStore persists a refreshed credential for a user.
type CredentialStore interface {
	UpdateCredential(ctx context.Context, userID string, cred Credential) error
}

// Refresher refreshes user tokens against the Spotify accounts service.
type Refresher struct {
	config *oauth2.Config
}

// NewRefresher creates a Refresher for the given application credentials.
// Returns ErrMissingCredentials if either value is empty.
func NewRefresher(clientID, clientSecret string) (*Refresher, error) {
	return newRefresher(clientID, clientSecret, oauth2.Endpoint{
		AuthURL:  spotifyauth.AuthURL,
		TokenURL: spotifyauth.TokenURL,
	})
}

func newRefresher(clientID, clientSecret string, endpoint oauth2.Endpoint) (*Refresher, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	return &Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
	}, nil
}

// Refresh obtains a new access token using refreshToken.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	if refreshToken == "" {
		return Credential{}, ErrNoRefreshToken
	}

	// An expired token forces the source to hit the token endpoint
	source := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	cred := Credential{
		Token:  token.AccessToken,
		Expiry: token.Expiry,
	}
	if token.RefreshToken != refreshToken {
		cred.RefreshToken = token.RefreshToken
	}
	return cred, nil
}

// Ensure returns a credential that is valid at now. The current credential is
// returned untouched unless it is expired, in which case it is refreshed and
// the new value, including any rotated refresh token, is persisted before
// being returned.
func Ensure(ctx context.Context, refresher TokenRefresher, store CredentialStore, userID, refreshToken string, current Credential, now time.Time) (Credential, error) {
	if !current.IsExpired(now) {
		return current, nil
	}

	cred, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return Credential{}, fmt.Errorf("refreshing credential for %s: %w", userID, err)
	}

	if err := store.UpdateCredential(ctx, userID, cred); err != nil {
		return Credential{}, fmt.Errorf("saving refreshed credential: %w", err)
	}

	return cred, nil
}
