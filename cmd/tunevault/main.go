package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/sydlexius/tunevault/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "tunevault",
		Usage:   "Aggregate, download and enrich a personal music library",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("TV_CONFIG_PATH"),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server, watcher and schedulers",
				Action: serve,
			},
			{
				Name:  "scan",
				Usage: "Scan the managed directories once",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "full", Usage: "Re-read every file instead of only new ones"},
				},
				Action: scan,
			},
			{
				Name:      "refresh",
				Usage:     "Refresh one artist from every platform",
				ArgsUsage: "<artist>",
				Action:    refreshArtist,
			},
			{
				Name:      "heal",
				Usage:     "Fill missing metadata of one artist's tracks",
				ArgsUsage: "<artist>",
				Action:    healArtist,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
