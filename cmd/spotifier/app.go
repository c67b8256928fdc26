package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/justestif/spotifier/internal/auth"
	"github.com/justestif/spotifier/internal/config"
	"github.com/justestif/spotifier/internal/db"
	"github.com/justestif/spotifier/internal/jobs"
	"github.com/justestif/spotifier/internal/library"
	"github.com/justestif/spotifier/internal/logging"
	"github.com/justestif/spotifier/internal/notify"
	"github.com/justestif/spotifier/internal/pipeline"
	"github.com/justestif/spotifier/internal/playlist"
	"github.com/justestif/spotifier/internal/releases"
	"github.com/justestif/spotifier/internal/spotify"
	"github.com/justestif/spotifier/internal/state"
)

var nowFunc = time.Now

// app holds the services shared by every command.
type app struct {
	config    *config.Config
	logger    *log.Logger
	db        *db.DB
	jobs      *jobs.Queue
	inFlight  *jobs.InFlight
	catalog   *spotify.Catalog
	marker    *state.MarkerFile
	library   *library.Service
	playlists *playlist.Reconciler
	pipeline  *pipeline.Runner
}

// newApp loads the configuration and wires every service.
func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	stateDir, err := stateDir(cfg)
	if err != nil {
		database.Close()
		return nil, err
	}

	// One limiter paces every catalog call, app-level and per-user.
	limiter := spotify.NewLimiter(cfg.Spotify.RequestsPerSecond)
	clientOpts := []spotify.Option{
		spotify.WithLimiter(limiter),
		spotify.WithLogger(logger.WithPrefix("spotify")),
	}

	catalog, err := spotify.NewCatalog(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, clientOpts...)
	if err != nil {
		database.Close()
		return nil, err
	}
	connector := spotify.NewConnector(spotify.DefaultBuild, clientOpts...)

	refresher, err := auth.NewRefresher(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)
	if err != nil {
		database.Close()
		return nil, err
	}

	users := database.Users()
	artists := database.Artists()
	sink := notify.NewLogSink(logger.WithPrefix("notify"))
	marker := state.MarkerFileIn(stateDir)

	resolver := releases.NewResolver(catalog, logger.WithPrefix("resolver"))
	cache := releases.NewCache(state.BatchFileIn(stateDir), catalog,
		releases.WithTTL(cfg.Releases.CacheTTL.Duration),
		releases.WithLogger(logger.WithPrefix("cache")),
	)

	// Artist resolution after a library sync runs in the background, one at a time.
	queue := jobs.NewQueue(context.WithoutCancel(ctx), 64, jobs.WithLogger(logger.WithPrefix("jobs")))

	lib := library.New(library.Deps{
		Users:     users,
		Artists:   artists,
		Refresher: refresher,
		Connect: func(ctx context.Context, token string) library.Reader {
			return connector.Connect(ctx, token)
		},
		Resolver: resolver,
		Jobs:     queue,
	}, library.WithSink(sink), library.WithLogger(logger.WithPrefix("library")))

	reconciler := playlist.New(playlist.Deps{
		Users:     users,
		Refresher: refresher,
		Connect: func(ctx context.Context, token string) playlist.Client {
			return connector.Connect(ctx, token)
		},
		Tracks: catalog,
		Marker: marker,
	},
		playlist.WithSettings(playlist.Settings{
			Title:       cfg.Playlist.Title,
			Description: cfg.Playlist.Description,
			Public:      cfg.Playlist.Public,
		}),
		playlist.WithSink(sink),
		playlist.WithLogger(logger.WithPrefix("playlist")),
	)

	// Per-user work from requests and from scheduled runs shares one guard.
	inFlight := jobs.NewInFlight()

	runner := pipeline.New(pipeline.Deps{
		Cache:      cache,
		Resolver:   resolver,
		Artists:    artists,
		Users:      users,
		Reconciler: reconciler,
		Library:    lib,
		InFlight:   inFlight,
	}, pipeline.WithQuery(cfg.Releases.Query), pipeline.WithLogger(logger.WithPrefix("pipeline")))

	return &app{
		config:    cfg,
		logger:    logger,
		db:        database,
		jobs:      queue,
		inFlight:  inFlight,
		catalog:   catalog,
		marker:    marker,
		library:   lib,
		playlists: reconciler,
		pipeline:  runner,
	}, nil
}

// Close waits for background jobs and releases the database.
func (a *app) Close() {
	a.jobs.Close()
	a.db.Close()
}

// loadConfig reads the configuration named by --config, falling back to the
// default path and then to the built-in defaults.
func loadConfig(cmd *cli.Command) (*config.Config, *log.Logger, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	explicit := cmd.String("config") != ""

	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) && !explicit {
		path = ""
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if v := cmd.String("log-level"); v != "" {
		level = v
	}
	logger, err := logging.New(os.Stderr, level)
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		logger.Debug("no config file, using defaults")
	}
	return cfg, logger, nil
}

func configPath(cmd *cli.Command) (string, error) {
	if p := cmd.String("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

func stateDir(cfg *config.Config) (string, error) {
	if cfg.State.Dir != "" {
		return cfg.State.Dir, nil
	}
	dir, err := state.DefaultDir()
	if err != nil {
		return "", fmt.Errorf("finding state directory: %w", err)
	}
	return dir, nil
}

func markerFile(cfg *config.Config) (*state.MarkerFile, error) {
	dir, err := stateDir(cfg)
	if err != nil {
		return nil, err
	}
	return state.MarkerFileIn(dir), nil
}
