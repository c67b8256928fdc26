package library

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/spotifier/internal/auth"
	"github.com/justestif/spotifier/internal/db"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type memUsers struct {
	users       map[string]*db.User
	credentials []auth.Credential
}

func (m *memUsers) Get(ctx context.Context, id string) (*db.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) UpdateCredential(ctx context.Context, userID string, cred auth.Credential) error {
	m.credentials = append(m.credentials, cred)
	m.users[userID].Credential = cred
	return nil
}

type memArtists struct {
	artists      map[string]*db.Artist
	tracking     map[string]map[string]bool // user -> artist set
	creates      []string
	failAssoc    string
	associations int
}

func newMemArtists(existing ...db.Artist) *memArtists {
	m := &memArtists{artists: map[string]*db.Artist{}, tracking: map[string]map[string]bool{}}
	for _, a := range existing {
		m.artists[a.ID] = &a
	}
	return m
}

func (m *memArtists) Get(ctx context.Context, id string) (*db.Artist, error) {
	a, ok := m.artists[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return a, nil
}

func (m *memArtists) Create(ctx context.Context, artist *db.Artist) error {
	if err := artist.Validate(); err != nil {
		return err
	}
	m.creates = append(m.creates, artist.ID)
	if _, ok := m.artists[artist.ID]; !ok {
		a := *artist
		m.artists[artist.ID] = &a
	}
	return nil
}

func (m *memArtists) UpdateRelease(ctx context.Context, artistID string, rel *db.Release) error {
	a, ok := m.artists[artistID]
	if !ok {
		return db.ErrNotFound
	}
	a.Release = rel
	return nil
}

func (m *memArtists) Associate(ctx context.Context, userID, artistID string) error {
	if artistID == m.failAssoc {
		return errors.New("store unavailable")
	}
	m.associations++
	if m.tracking[userID] == nil {
		m.tracking[userID] = map[string]bool{}
	}
	m.tracking[userID][artistID] = true
	return nil
}

func (m *memArtists) Dissociate(ctx context.Context, userID, artistID string) error {
	delete(m.tracking[userID], artistID)
	return nil
}

func (m *memArtists) Library(ctx context.Context, userID string) ([]db.Artist, error) {
	var out []db.Artist
	for id := range m.tracking[userID] {
		out = append(out, *m.artists[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeReader struct {
	artists []db.Artist
	err     error
}

func (f *fakeReader) SavedTrackArtists(ctx context.Context) ([]db.Artist, error) {
	return f.artists, f.err
}

type fakeRefresher struct {
	cred  auth.Credential
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (auth.Credential, error) {
	f.calls++
	return f.cred, nil
}

type fakeResolver struct {
	releases map[string]*db.Release
}

func (f *fakeResolver) Resolve(ctx context.Context, artist db.Artist) (*db.Release, error) {
	return f.releases[artist.ID], nil
}

// recordingJobs keeps submitted jobs so tests can run them later.
type recordingJobs struct {
	names []string
	runs  []func(ctx context.Context) error
}

func (r *recordingJobs) Submit(ctx context.Context, name string, run func(ctx context.Context) error, done func(err error)) (uuid.UUID, error) {
	r.names = append(r.names, name)
	r.runs = append(r.runs, run)
	return uuid.New(), nil
}

type recordingSink struct {
	libraries [][]db.Artist
}

func (s *recordingSink) LibraryAdded(ctx context.Context, user *db.User, library []db.Artist) error {
	s.libraries = append(s.libraries, library)
	return nil
}

func (s *recordingSink) PlaylistUpdated(ctx context.Context, user *db.User, released []db.Artist) error {
	return nil
}

type fixture struct {
	users     *memUsers
	artists   *memArtists
	reader    *fakeReader
	refresher *fakeRefresher
	resolver  *fakeResolver
	jobs      *recordingJobs
	sink      *recordingSink
	tokens    []string
	svc       *Service
}

func newFixture(saved []db.Artist, existing ...db.Artist) *fixture {
	f := &fixture{
		users: &memUsers{users: map[string]*db.User{
			"u1": {
				ID:           "u1",
				RefreshToken: "refresh",
				Credential:   auth.Credential{Token: "valid", Expiry: testNow.Add(time.Hour)},
			},
		}},
		artists:   newMemArtists(existing...),
		reader:    &fakeReader{artists: saved},
		refresher: &fakeRefresher{cred: auth.Credential{Token: "fresh", Expiry: testNow.Add(time.Hour)}},
		resolver:  &fakeResolver{releases: map[string]*db.Release{}},
		jobs:      &recordingJobs{},
		sink:      &recordingSink{},
	}
	f.svc = New(Deps{
		Users:     f.users,
		Artists:   f.artists,
		Refresher: f.refresher,
		Connect: func(ctx context.Context, token string) Reader {
			f.tokens = append(f.tokens, token)
			return f.reader
		},
		Resolver: f.resolver,
		Jobs:     f.jobs,
	}, WithSink(f.sink), WithClock(func() time.Time { return testNow }))
	return f
}

func artist(id string) db.Artist {
	return db.Artist{ID: id, Name: "Artist " + id}
}

func TestSyncLibrary_DedupesArtists(t *testing.T) {
	f := newFixture([]db.Artist{artist("A"), artist("A"), artist("B")})

	result, err := f.svc.SyncLibrary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncLibrary() error = %v", err)
	}

	if result.Artists != 2 || result.Added != 2 {
		t.Errorf("result = %+v, want 2 artists added", result)
	}
	if f.artists.associations != 2 {
		t.Errorf("associations = %d, want 2", f.artists.associations)
	}
	if got := f.artists.tracking["u1"]; len(got) != 2 || !got["A"] || !got["B"] {
		t.Errorf("tracked = %v, want {A, B}", got)
	}
	if len(f.artists.creates) != 2 {
		t.Errorf("creates = %v, want one per unique artist", f.artists.creates)
	}
}

func TestSyncLibrary_NewArtistsScheduleReleaseLookup(t *testing.T) {
	f := newFixture([]db.Artist{artist("A")})
	f.resolver.releases["A"] = &db.Release{ID: "r1", Title: "Latest"}

	if _, err := f.svc.SyncLibrary(context.Background(), "u1"); err != nil {
		t.Fatalf("SyncLibrary() error = %v", err)
	}

	if got := f.artists.artists["A"]; got.Release != nil {
		t.Errorf("placeholder has release %+v before the job ran", got.Release)
	}
	if len(f.jobs.runs) != 1 {
		t.Fatalf("jobs submitted = %d, want 1", len(f.jobs.runs))
	}

	if err := f.jobs.runs[0](context.Background()); err != nil {
		t.Fatalf("release job error = %v", err)
	}
	if got := f.artists.artists["A"].Release; got == nil || got.ID != "r1" {
		t.Errorf("release after job = %+v, want r1", got)
	}
}

func TestSyncLibrary_ExistingArtistIsOnlyAssociated(t *testing.T) {
	existing := artist("A")
	existing.Release = &db.Release{ID: "kept"}
	f := newFixture([]db.Artist{artist("A")}, existing)
	f.artists.tracking["u1"] = map[string]bool{"A": true}

	result, err := f.svc.SyncLibrary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncLibrary() error = %v", err)
	}

	if result.Associated != 1 || result.Added != 0 {
		t.Errorf("result = %+v, want 1 associated", result)
	}
	if len(f.artists.creates) != 0 || len(f.jobs.runs) != 0 {
		t.Errorf("creates = %v, jobs = %d; want none for a known artist", f.artists.creates, len(f.jobs.runs))
	}
	if len(f.artists.tracking["u1"]) != 1 {
		t.Errorf("tracked = %v, want a single entry", f.artists.tracking["u1"])
	}
	if f.artists.artists["A"].Release.ID != "kept" {
		t.Error("existing release was overwritten")
	}
}

func TestSyncLibrary_ArtistFailureDoesNotAbort(t *testing.T) {
	f := newFixture([]db.Artist{artist("A"), artist("B")})
	f.artists.failAssoc = "A"

	result, err := f.svc.SyncLibrary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncLibrary() error = %v, want nil for per-artist failure", err)
	}

	if result.Failed != 1 || result.Added != 1 {
		t.Errorf("result = %+v, want 1 failed and 1 added", result)
	}
	if result.Err == nil {
		t.Error("result.Err = nil, want the collected failure")
	}
	if !f.artists.tracking["u1"]["B"] {
		t.Error("B was not associated after A failed")
	}
}

func TestSyncLibrary_Credential(t *testing.T) {
	tests := []struct {
		name        string
		expiry      time.Time
		wantRefresh bool
		wantToken   string
	}{
		{"valid credential reused", testNow.Add(time.Hour), false, "valid"},
		{"inside margin refreshed", testNow.Add(30 * time.Second), true, "fresh"},
		{"expired refreshed", testNow.Add(-time.Minute), true, "fresh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.users.users["u1"].Credential.Expiry = tt.expiry

			if _, err := f.svc.SyncLibrary(context.Background(), "u1"); err != nil {
				t.Fatalf("SyncLibrary() error = %v", err)
			}

			if (f.refresher.calls == 1) != tt.wantRefresh {
				t.Errorf("refresh calls = %d, wantRefresh %v", f.refresher.calls, tt.wantRefresh)
			}
			if (len(f.users.credentials) == 1) != tt.wantRefresh {
				t.Errorf("credential writes = %d, wantRefresh %v", len(f.users.credentials), tt.wantRefresh)
			}
			if len(f.tokens) != 1 || f.tokens[0] != tt.wantToken {
				t.Errorf("connected with %v, want %s", f.tokens, tt.wantToken)
			}
		})
	}
}

func TestSyncLibrary_UserNotFound(t *testing.T) {
	f := newFixture(nil)

	_, err := f.svc.SyncLibrary(context.Background(), "missing")
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("SyncLibrary() error = %v, want ErrNotFound", err)
	}
}

func TestSyncLibrary_SavedTracksFailure(t *testing.T) {
	f := newFixture(nil)
	f.reader.err = errors.New("upstream down")

	if _, err := f.svc.SyncLibrary(context.Background(), "u1"); err == nil {
		t.Error("SyncLibrary() error = nil, want saved-track failure")
	}
	if len(f.sink.libraries) != 0 {
		t.Error("sink notified after failed sync")
	}
}

func TestSyncLibrary_NotifiesSink(t *testing.T) {
	f := newFixture([]db.Artist{artist("B"), artist("A")})

	if _, err := f.svc.SyncLibrary(context.Background(), "u1"); err != nil {
		t.Fatalf("SyncLibrary() error = %v", err)
	}

	if len(f.sink.libraries) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.sink.libraries))
	}
	if lib := f.sink.libraries[0]; len(lib) != 2 {
		t.Errorf("notified library = %+v, want 2 artists", lib)
	}
}

func TestRemoveArtist_Idempotent(t *testing.T) {
	f := newFixture(nil, artist("A"))
	f.artists.tracking["u1"] = map[string]bool{"A": true}

	for range 2 {
		if err := f.svc.RemoveArtist(context.Background(), "u1", "A"); err != nil {
			t.Fatalf("RemoveArtist() error = %v", err)
		}
	}

	lib, err := f.svc.Library(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Library() error = %v", err)
	}
	if len(lib) != 0 {
		t.Errorf("Library() = %+v, want empty", lib)
	}
}

func TestAddArtist(t *testing.T) {
	f := newFixture(nil, artist("known"))

	added, err := f.svc.AddArtist(context.Background(), "u1", artist("fresh"))
	if err != nil {
		t.Fatalf("AddArtist() error = %v", err)
	}
	if !added || len(f.jobs.runs) != 1 {
		t.Errorf("added = %v, jobs = %d; want a new artist with a release lookup", added, len(f.jobs.runs))
	}

	added, err = f.svc.AddArtist(context.Background(), "u1", artist("known"))
	if err != nil {
		t.Fatalf("AddArtist() error = %v", err)
	}
	if added {
		t.Error("known artist reported as new")
	}
	if got := f.artists.tracking["u1"]; !got["fresh"] || !got["known"] {
		t.Errorf("tracked = %v, want fresh and known", got)
	}
}

func TestAddArtist_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		artist  db.Artist
		wantErr error
	}{
		{"missing name", "u1", db.Artist{ID: "A"}, db.ErrInvalid},
		{"unknown user", "nobody", artist("A"), db.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			_, err := f.svc.AddArtist(context.Background(), tt.userID, tt.artist)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddArtist() error = %v, want %v", err, tt.wantErr)
			}
			if len(f.artists.creates) != 0 {
				t.Errorf("creates = %v, want none", f.artists.creates)
			}
		})
	}
}

func TestResolveArtist_NoReleaseLeavesArtist(t *testing.T) {
	f := newFixture(nil, artist("A"))

	if err := f.svc.ResolveArtist(context.Background(), artist("A")); err != nil {
		t.Fatalf("ResolveArtist() error = %v", err)
	}
	if f.artists.artists["A"].Release != nil {
		t.Error("release set for an artist without releases")
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]db.Artist{artist("C"), artist("A"), artist("C"), artist("B"), artist("A")})

	want := []string{"C", "A", "B"}
	if len(got) != len(want) {
		t.Fatalf("Dedupe() = %v, want %v", got, want)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Dedupe()[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}
