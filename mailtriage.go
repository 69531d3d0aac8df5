package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mailtriage/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "mailtriage",
		Usage:   "Email triage assistant that classifies mail and talks it through in Slack",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./mailtriage.toml)",
				EnvVars: []string{"MAILTRIAGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` before reading configuration",
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.FetchCommand(),
			cmd.HandleOneCommand(),
			cmd.ReplyCommand(),
			cmd.TranscriptCommand(),
			cmd.TokenCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
