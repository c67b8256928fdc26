package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/justestif/spotifier/internal/config"
	"github.com/justestif/spotifier/internal/db"
	"github.com/justestif/spotifier/internal/playlist"
	"github.com/justestif/spotifier/internal/scheduler"
	"github.com/justestif/spotifier/internal/web"
)

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the HTTP triggers and the scheduled new-release job",
			Action: serve,
		},
		{
			Name:      "sync",
			Usage:     "Synchronize a user's library artists",
			Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
			Action:    syncUser,
		},
		{
			Name:      "playlist",
			Usage:     "Update a user's new-releases playlist",
			Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
			Action:    updatePlaylist,
		},
		{
			Name:   "discover",
			Usage:  "Run the new-release job once",
			Action: discover,
		},
		{
			Name:   "advance-reset",
			Usage:  "Move the weekly reset marker forward if a week has passed",
			Action: advanceReset,
		},
		{
			Name:   "migrate",
			Usage:  "Apply database migrations",
			Action: migrate,
		},
		{
			Name:  "user",
			Usage: "Manage users",
			Commands: []*cli.Command{
				{
					Name:      "add",
					Usage:     "Register a user with a refresh token",
					Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     "refresh-token",
							Usage:    "OAuth refresh token granted by the user",
							Required: true,
						},
						&cli.StringFlag{
							Name:  "name",
							Usage: "Display name",
						},
					},
					Action: addUser,
				},
				{
					Name:      "settings",
					Usage:     "Show or change a user's scheduled work settings",
					Arguments: []cli.Argument{&cli.StringArg{Name: "user"}},
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:  "playlist",
							Usage: "Include the user in scheduled playlist updates",
						},
						&cli.BoolFlag{
							Name:  "scheduled-sync",
							Usage: "Re-synchronize the user's library on every scheduled run",
						},
					},
					Action: userSettings,
				},
			},
		},
		{
			Name:  "config",
			Usage: "Manage the configuration file",
			Commands: []*cli.Command{
				{
					Name:   "init",
					Usage:  "Write the example configuration",
					Action: initConfig,
				},
			},
		},
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.marker, a.pipeline,
		scheduler.WithInterval(a.config.Scheduler.Interval.Duration),
		scheduler.WithRunOnStart(a.config.Scheduler.RunOnStart),
		scheduler.WithLogger(a.logger.WithPrefix("scheduler")),
	)
	defer sched.Stop()
	if a.config.Scheduler.Enabled {
		sched.Start(ctx)
	}

	handlers := web.NewHandlers(web.HandlersDeps{
		Library:   a.library,
		Playlists: a.playlists,
		Bulk:      sched,
		Marker:    a.marker,
		Settings:  a.db.Users(),
		Search:    a.catalog,
		InFlight:  a.inFlight,
	}, web.WithLogger(a.logger.WithPrefix("web")))
	server := web.NewServer(web.ServerConfig{
		Addr:   a.config.Server.Addr,
		Logger: a.logger.WithPrefix("http"),
	}, handlers)

	return server.Run(ctx)
}

func syncUser(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.library.SyncLibrary(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("%d artists: %d added, %d linked, %d failed\n",
		result.Artists, result.Added, result.Associated, result.Failed)
	return nil
}

func updatePlaylist(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.playlists.UpdatePlaylist(ctx, userID)
}

func discover(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.pipeline.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d candidates, %d new releases, %d playlists updated, %d failed, %d skipped\n",
		summary.Candidates, summary.Changed, summary.Reconciled,
		summary.ResolveFailed+summary.ReconcileFailed, summary.ReconcileSkipped)
	return nil
}

func advanceReset(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	marker, err := markerFile(cfg)
	if err != nil {
		return err
	}

	at, advanced, err := playlist.AdvanceResetMarker(marker, nowFunc())
	if err != nil {
		return err
	}
	if advanced {
		fmt.Printf("reset marker advanced to %s\n", at.Format("2006-01-02 15:04:05 MST"))
		return nil
	}
	fmt.Printf("reset marker unchanged at %s\n", at.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("%w: database.url is empty", config.ErrInvalidConfig)
	}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := database.Migrate(ctx)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "count", applied)
	return nil
}

func addUser(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	user := &db.User{
		ID:           userID,
		DisplayName:  cmd.String("name"),
		RefreshToken: cmd.String("refresh-token"),
	}
	if err := a.db.Users().Upsert(ctx, user); err != nil {
		return err
	}
	a.logger.Info("user registered", "user", userID)
	return nil
}

func userSettings(ctx context.Context, cmd *cli.Command) error {
	userID, err := requireArg(cmd, "user")
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	users := a.db.Users()
	user, err := users.Get(ctx, userID)
	if err != nil {
		return err
	}

	settings := user.UserSettings
	if cmd.IsSet("playlist") {
		settings.PlaylistEnabled = cmd.Bool("playlist")
	}
	if cmd.IsSet("scheduled-sync") {
		settings.SyncScheduled = cmd.Bool("scheduled-sync")
	}
	if settings != user.UserSettings {
		if err := users.UpdateSettings(ctx, userID, settings); err != nil {
			return err
		}
	}
	fmt.Printf("playlist=%t scheduled-sync=%t\n", settings.PlaylistEnabled, settings.SyncScheduled)
	return nil
}

func initConfig(ctx context.Context, cmd *cli.Command) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.StringArg(name)
	if v == "" {
		return "", fmt.Errorf("missing <%s> argument", name)
	}
	return v, nil
}
