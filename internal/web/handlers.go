package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/justestif/spotifier/internal/db"
	"github.com/justestif/spotifier/internal/jobs"
	"github.com/justestif/spotifier/internal/library"
	"github.com/justestif/spotifier/internal/playlist"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// LibraryService synchronizes and edits users' artist libraries.
type LibraryService interface {
	SyncLibrary(ctx context.Context, userID string) (*library.SyncResult, error)
	Library(ctx context.Context, userID string) ([]db.Artist, error)
	AddArtist(ctx context.Context, userID string, artist db.Artist) (bool, error)
	RemoveArtist(ctx context.Context, userID, artistID string) error
}

// PlaylistUpdater reconciles one user's playlist.
type PlaylistUpdater interface {
	UpdatePlaylist(ctx context.Context, userID string) error
}

// BulkTrigger starts the bulk new-release job unless it is already running.
type BulkTrigger interface {
	Trigger(ctx context.Context) bool
}

// SettingsStore reads and updates per-user settings.
type SettingsStore interface {
	Get(ctx context.Context, id string) (*db.User, error)
	UpdateSettings(ctx context.Context, userID string, settings db.UserSettings) error
}

// ArtistSearcher searches the catalog for artists.
type ArtistSearcher interface {
	RefreshToken(ctx context.Context) error
	SearchArtists(ctx context.Context, query string) ([]db.Artist, error)
}

// HandlersDeps are the collaborators of Handlers. InFlight is the per-user
// guard shared with the bulk job; nil gets a private one.
type HandlersDeps struct {
	Library   LibraryService
	Playlists PlaylistUpdater
	Bulk      BulkTrigger
	Marker    playlist.MarkerStore
	Settings  SettingsStore
	Search    ArtistSearcher
	InFlight  *jobs.InFlight
}

// Handlers contains the HTTP trigger handlers.
type Handlers struct {
	HandlersDeps
	now    func() time.Time
	logger *log.Logger

	wg sync.WaitGroup
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithClock sets the time source.
func WithClock(now func() time.Time) HandlersOption {
	return func(h *Handlers) {
		h.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) HandlersOption {
	return func(h *Handlers) {
		h.logger = l
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps HandlersDeps, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		HandlersDeps: deps,
		now:          time.Now,
		logger:       log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.InFlight == nil {
		h.InFlight = jobs.NewInFlight()
	}
	return h
}

type jobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	UserID string    `json:"user_id,omitempty"`
	Status string    `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}

type artistResponse struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Release *db.Release `json:"release,omitempty"`
}

type markerResponse struct {
	Marker   time.Time `json:"marker"`
	Advanced bool      `json:"advanced"`
}

type addArtistRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type addArtistResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Added bool   `json:"added"`
}

// settingsRequest is a partial update; absent fields keep their value.
type settingsRequest struct {
	PlaylistEnabled *bool `json:"playlist_enabled"`
	SyncScheduled   *bool `json:"sync_scheduled"`
}

// SyncLibrary starts a library sync for a user (POST /users/{userID}/sync).
func (h *Handlers) SyncLibrary(w http.ResponseWriter, r *http.Request) {
	h.startUserJob(w, r, "sync", func(ctx context.Context, userID string) error {
		result, err := h.Library.SyncLibrary(ctx, userID)
		if err != nil {
			return err
		}
		if result.Err != nil {
			h.logger.Warn("library sync finished with failures", "user", userID, "failed", result.Failed, "err", result.Err)
		}
		return nil
	})
}

// UpdatePlaylist starts a playlist reconciliation for a user
// (POST /users/{userID}/playlist).
func (h *Handlers) UpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	h.startUserJob(w, r, "playlist", h.Playlists.UpdatePlaylist)
}

// ListArtists lists a user's tracked artists (GET /users/{userID}/artists).
func (h *Handlers) ListArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := h.Library.Library(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}

	out := make([]artistResponse, 0, len(artists))
	for _, a := range artists {
		out = append(out, artistResponse{ID: a.ID, Name: a.Name, Release: a.Release})
	}
	writeJSON(w, http.StatusOK, out)
}

// RemoveArtist stops tracking an artist for a user
// (DELETE /users/{userID}/artists/{artistID}).
func (h *Handlers) RemoveArtist(w http.ResponseWriter, r *http.Request) {
	err := h.Library.RemoveArtist(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "artistID"))
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddArtist tracks one artist for a user (POST /users/{userID}/artists).
// Responds 201 when the artist is new to the shared set, 200 otherwise.
func (h *Handlers) AddArtist(w http.ResponseWriter, r *http.Request) {
	var req addArtistRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	artist := db.Artist{ID: req.ID, Name: req.Name}
	added, err := h.Library.AddArtist(r.Context(), chi.URLParam(r, "userID"), artist)
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, addArtistResponse{ID: artist.ID, Name: artist.Name, Added: added})
}

// SearchArtists searches the catalog for artists by name
// (GET /artists/search?q=).
func (h *Handlers) SearchArtists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, r, http.StatusBadRequest, errors.New("missing query parameter q"))
		return
	}

	if err := h.Search.RefreshToken(r.Context()); err != nil {
		h.writeError(w, r, http.StatusBadGateway, err)
		return
	}
	artists, err := h.Search.SearchArtists(r.Context(), query)
	if err != nil {
		h.writeError(w, r, http.StatusBadGateway, err)
		return
	}

	out := make([]artistResponse, 0, len(artists))
	for _, a := range artists {
		out = append(out, artistResponse{ID: a.ID, Name: a.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSettings returns a user's settings (GET /users/{userID}/settings).
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	user, err := h.Settings.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, user.UserSettings)
}

// UpdateSettings changes the fields present in the body and returns the
// resulting settings (PUT /users/{userID}/settings).
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	user, err := h.Settings.Get(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}

	settings := user.UserSettings
	if req.PlaylistEnabled != nil {
		settings.PlaylistEnabled = *req.PlaylistEnabled
	}
	if req.SyncScheduled != nil {
		settings.SyncScheduled = *req.SyncScheduled
	}
	if err := h.Settings.UpdateSettings(r.Context(), userID, settings); err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}
	h.logger.Info("settings updated", "user", userID,
		"playlist_enabled", settings.PlaylistEnabled, "sync_scheduled", settings.SyncScheduled)
	writeJSON(w, http.StatusOK, settings)
}

// NewReleases starts the bulk new-release job (POST /jobs/new-releases).
func (h *Handlers) NewReleases(w http.ResponseWriter, r *http.Request) {
	if !h.Bulk.Trigger(context.WithoutCancel(r.Context())) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "new-release job already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: uuid.New(), Status: "accepted"})
}

// AdvanceResetMarker moves the weekly reset marker forward when a week
// has passed (POST /jobs/reset-marker).
func (h *Handlers) AdvanceResetMarker(w http.ResponseWriter, r *http.Request) {
	marker, advanced, err := playlist.AdvanceResetMarker(h.Marker, h.now())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, markerResponse{Marker: marker, Advanced: advanced})
}

// Health reports that the server is up (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Wait blocks until every background job started by a handler has finished.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

// startUserJob runs fn for the request's user in the background. At most one
// job per user is in flight across the handlers and the bulk job; a second
// request gets 409 with the running id.
func (h *Handlers) startUserJob(w http.ResponseWriter, r *http.Request, kind string, fn func(ctx context.Context, userID string) error) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, r, http.StatusBadRequest, errors.New("missing user id"))
		return
	}

	jobID, ok := h.InFlight.Acquire(userID)
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "a job is already running for this user",
			JobID: jobID.String(),
		})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	logger := h.logger.With("job", kind, "id", jobID, "user", userID)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.InFlight.Release(userID)

		start := h.now()
		if err := fn(ctx, userID); err != nil {
			logger.Error("job failed", "err", err)
			return
		}
		logger.Info("job finished", "took", h.now().Sub(start))
	}()

	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID, UserID: userID, Status: "accepted"})
}

// decodeBody decodes a bounded JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
