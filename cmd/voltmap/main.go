// Package main provides the entrypoint for the VoltMap client and its shell bridge.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/voltmap/voltmap/internal/config"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "voltmap"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           serviceName,
		Usage:          "Find EV charging stations and start charging sessions",
		Version:        Version,
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the client and the local shell bridge",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "YAML configuration file",
						EnvVars: []string{config.PathEnv},
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadFile(c.String("config"))
					if err != nil {
						return err
					}
					return serve(c.Context, cfg)
				},
			},
			{
				Name:  "check-feed",
				Usage: "Validate a station feed file offline",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Feed document (JSON array or {\"stations\": [...]})",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Fail when any record is rejected",
					},
				},
				Action: func(c *cli.Context) error {
					return checkFeed(c.Context, c.App.Writer, c.String("file"), c.Bool("strict"))
				},
			},
		},
	}
}
