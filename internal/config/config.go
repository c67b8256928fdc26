// Package config loads the TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/justestif/spotifier/internal/auth"
)

//go:embed config.example.toml
var exampleConf []byte

// ErrInvalidConfig is returned for configuration values that cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Environment variables that override file values.
const (
	EnvClientID     = "SPOTIFY_ID"
	EnvClientSecret = "SPOTIFY_SECRET"
	EnvDatabaseURL  = "DATABASE_URL"
)

// Config is the application configuration.
type Config struct {
	Spotify   SpotifyConfig   `toml:"spotify"`
	Database  DatabaseConfig  `toml:"database"`
	Playlist  PlaylistConfig  `toml:"playlist"`
	Releases  ReleasesConfig  `toml:"releases"`
	State     StateConfig     `toml:"state"`
	Server    ServerConfig    `toml:"server"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

// SpotifyConfig holds catalog credentials and pacing.
type SpotifyConfig struct {
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// DatabaseConfig holds the PostgreSQL connection string.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// PlaylistConfig describes the playlist created for each user.
type PlaylistConfig struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`
	Public      bool   `toml:"public"`
}

// ReleasesConfig controls the new-release search and its cache.
type ReleasesConfig struct {
	Query    string   `toml:"query"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// StateConfig locates the state files.
type StateConfig struct {
	Dir string `toml:"dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// SchedulerConfig controls the periodic bulk run.
type SchedulerConfig struct {
	Enabled    bool     `toml:"enabled"`
	Interval   Duration `toml:"interval"`
	RunOnStart bool     `toml:"run_on_start"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("finding config directory: %w", err)
	}
	return filepath.Join(dir, "spotifier", "config.toml"), nil
}

// DefaultConfig returns the configuration in the embedded example file.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("parsing embedded default config: %v", err))
	}
	return &config
}

// LoadConfig reads a TOML file over the defaults and applies environment
// overrides. A missing file at an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
	}

	config.applyEnv(os.Getenv)
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvClientID); v != "" {
		c.Spotify.ClientID = v
	}
	if v := getenv(EnvClientSecret); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
}

// Validate checks the values every command needs.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: set %s and %s", auth.ErrMissingCredentials, EnvClientID, EnvClientSecret)
	}

	var problems []string
	if c.Database.URL == "" {
		problems = append(problems, "database.url is empty")
	}
	if c.Spotify.RequestsPerSecond < 0 {
		problems = append(problems, "spotify.requests_per_second is negative")
	}
	if c.Playlist.Title == "" {
		problems = append(problems, "playlist.title is empty")
	}
	if c.Releases.CacheTTL.Duration <= 0 {
		problems = append(problems, "releases.cache_ttl must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval.Duration <= 0 {
		problems = append(problems, "scheduler.interval must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is unknown", c.Log.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// CreateConfigFile writes the example config to path, creating parent
// directories. An existing file is left untouched.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
