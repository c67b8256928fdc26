package spotify

import (
	"context"
	"fmt"
	"sync"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/justestif/spotifier/internal/auth"
	"github.com/justestif/spotifier/internal/db"
)

// Grant obtains a client-level access token.
type Grant interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// BuildFunc builds an API bound to an access token.
type BuildFunc func(ctx context.Context, token *oauth2.Token) API

// DefaultBuild binds the Web API client to a static token.
func DefaultBuild(ctx context.Context, token *oauth2.Token) API {
	return spotify.New(oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)), spotify.WithRetry(true))
}

// Catalog is a Client authenticated with the application's own credentials.
// Calls made before the first RefreshToken fail with ErrNotAuthenticated.
type Catalog struct {
	grant Grant
	build BuildFunc
	opts  []Option

	mu     sync.RWMutex
	client *Client
}

// NewCatalog creates a Catalog using the client credentials grant.
func NewCatalog(clientID, clientSecret string, opts ...Option) (*Catalog, error) {
	if clientID == "" || clientSecret == "" {
		return nil, auth.ErrMissingCredentials
	}
	grant := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return NewCatalogWithGrant(grant, DefaultBuild, opts...), nil
}

// NewCatalogWithGrant creates a Catalog from an arbitrary grant and builder.
func NewCatalogWithGrant(grant Grant, build BuildFunc, opts ...Option) *Catalog {
	return &Catalog{grant: grant, build: build, opts: opts}
}

// RefreshToken obtains a fresh client-level token and rebinds the catalog
// client to it. Callers refresh before each batch of calls.
func (c *Catalog) RefreshToken(ctx context.Context) error {
	token, err := c.grant.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: client credentials grant: %w", auth.ErrRefreshFailed, err)
	}

	client := New(c.build(ctx, token), c.opts...)

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Catalog) current() *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return New(nil, c.opts...)
	}
	return c.client
}

// ArtistReleases lists an artist's albums and singles. See Client.ArtistReleases.
func (c *Catalog) ArtistReleases(ctx context.Context, artistID string) ([]db.ReleaseSummary, error) {
	return c.current().ArtistReleases(ctx, artistID)
}

// ReleaseDetail fetches the full record of a release.
func (c *Catalog) ReleaseDetail(ctx context.Context, releaseID string) (*db.Release, error) {
	return c.current().ReleaseDetail(ctx, releaseID)
}

// ReleaseTrackURIs returns the track URIs of a release.
func (c *Catalog) ReleaseTrackURIs(ctx context.Context, releaseID string) ([]string, error) {
	return c.current().ReleaseTrackURIs(ctx, releaseID)
}

// SearchReleases runs an album search. See Client.SearchReleases.
func (c *Catalog) SearchReleases(ctx context.Context, query string) ([]db.ArtistRelease, error) {
	return c.current().SearchReleases(ctx, query)
}

// SearchArtists runs an artist search. See Client.SearchArtists.
func (c *Catalog) SearchArtists(ctx context.Context, query string) ([]db.Artist, error) {
	return c.current().SearchArtists(ctx, query)
}

// Connector creates clients bound to user access tokens. Every client it
// creates shares the connector's options, including its limiter.
type Connector struct {
	build BuildFunc
	opts  []Option
}

// NewConnector creates a Connector. A nil build uses DefaultBuild.
func NewConnector(build BuildFunc, opts ...Option) *Connector {
	if build == nil {
		build = DefaultBuild
	}
	return &Connector{build: build, opts: opts}
}

// Connect returns a client acting with the given user access token.
func (c *Connector) Connect(ctx context.Context, accessToken string) *Client {
	token := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	return New(c.build(ctx, token), c.opts...)
}
