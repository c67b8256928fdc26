// Package logging builds the application's structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level, with timestamps.
// A nil writer means stderr and an empty level means info.
func New(w io.Writer, level string) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
	}), nil
}

// ParseLevel converts a level name to a log.Level.
func ParseLevel(level string) (log.Level, error) {
	if level == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return 0, fmt.Errorf("parsing log level: %w", err)
	}
	return lvl, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
