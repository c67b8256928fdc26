// Command spotifier discovers new releases from the artists in each user's
// library and keeps a weekly new-releases playlist for them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:    "spotifier",
		Usage:   "Track new releases from your library and keep a weekly playlist",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default: user config dir)",
				Sources: cli.EnvVars("SPOTIFIER_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Commands: commands(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
