package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mailtriage/internal/api"
	"github.com/mailtriage/internal/slack"
)

// ServeCommand returns the CLI command for running the assistant
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the Slack listener, the job workers and the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (0 disables it; default from config)",
				Value:   -1,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := a.queue(ctx)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := q.Stop(stopCtx); err != nil {
			a.logger.Warn().Err(err).Msg("job queue did not stop cleanly")
		}
	}()

	port := a.cfg.Server.Port
	if c.Int("port") >= 0 {
		port = c.Int("port")
	}

	g, gctx := errgroup.WithContext(ctx)
	if port > 0 {
		server := api.NewServer(api.Options{
			Port:          port,
			SigningSecret: a.cfg.Slack.SigningSecret,
			JWTSecret:     a.cfg.Server.JWTSecret,
		}, q, a.engine, a.logger)
		g.Go(func() error { return server.Start(gctx) })
	}
	if a.cfg.Slack.SocketMode {
		router := slack.NewRouter(q, a.logger)
		g.Go(func() error { return slack.Listen(gctx, a.slackAPI, router, a.logger) })
	}

	a.logger.Info().Int("port", port).Bool("socket_mode", a.cfg.Slack.SocketMode).Msg("mailtriage running")
	err = g.Wait()
	a.logger.Info().Msg("shutting down")
	return err
}

// TokenCommand issues a bearer token for the HTTP API
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Issue an API bearer token signed with server.jwt_secret",
		ArgsUsage: "SUBJECT",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 30 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			subject := c.Args().First()
			if subject == "" {
				subject = "operator"
			}
			ts := api.NewTokenService(cfg.Server.JWTSecret)
			ts.TokenDuration = c.Duration("ttl")
			token, expiresAt, err := ts.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
