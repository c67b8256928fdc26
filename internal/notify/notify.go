// Package notify delivers per-user completion signals to a presentation layer.
package notify

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotifier/internal/db"
)

// Sink receives completion signals.
type Sink interface {
	// LibraryAdded is called after a user's library sync with the user's
	// tracked artists.
	LibraryAdded(ctx context.Context, user *db.User, library []db.Artist) error
	// PlaylistUpdated is called after a user's playlist was populated with
	// the artists whose releases were added.
	PlaylistUpdated(ctx context.Context, user *db.User, released []db.Artist) error
}

// Nop discards every signal.
type Nop struct{}

func (Nop) LibraryAdded(context.Context, *db.User, []db.Artist) error    { return nil }
func (Nop) PlaylistUpdated(context.Context, *db.User, []db.Artist) error { return nil }

// LogSink writes signals as structured log lines.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink. A nil logger discards output.
func NewLogSink(l *log.Logger) *LogSink {
	if l == nil {
		l = log.New(io.Discard)
	}
	return &LogSink{logger: l}
}

func (s *LogSink) LibraryAdded(ctx context.Context, user *db.User, library []db.Artist) error {
	s.logger.Info("library added", "user", user.ID, "artists", len(library))
	return nil
}

func (s *LogSink) PlaylistUpdated(ctx context.Context, user *db.User, released []db.Artist) error {
	names := make([]string, 0, len(released))
	for _, a := range released {
		names = append(names, a.Name)
	}
	s.logger.Info("playlist updated", "user", user.ID, "playlist", user.PlaylistID, "releases", len(released), "artists", names)
	return nil
}

// Multi fans signals out to every sink, joining their errors.
type Multi []Sink

func (m Multi) LibraryAdded(ctx context.Context, user *db.User, library []db.Artist) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.LibraryAdded(ctx, user, library))
	}
	return errors.Join(errs...)
}

func (m Multi) PlaylistUpdated(ctx context.Context, user *db.User, released []db.Artist) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PlaylistUpdated(ctx, user, released))
	}
	return errors.Join(errs...)
}
