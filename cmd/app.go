package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/urfave/cli/v2"

	"github.com/mailtriage/internal/config"
	"github.com/mailtriage/internal/conversation"
	"github.com/mailtriage/internal/dispatch"
	"github.com/mailtriage/internal/jobqueue"
	"github.com/mailtriage/internal/llm"
	"github.com/mailtriage/internal/logging"
	"github.com/mailtriage/internal/mailbox"
	"github.com/mailtriage/internal/prompts"
	"github.com/mailtriage/internal/retry"
	"github.com/mailtriage/internal/slack"
	"github.com/mailtriage/internal/store"
	"github.com/mailtriage/internal/tools"
	"github.com/mailtriage/internal/trello"
)

// app holds the wired components shared by every command
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      store.Store
	engine     *conversation.Engine
	dispatcher *dispatch.Dispatcher
	slackAPI   *slackapi.Client
	runner     *jobqueue.DispatchRunner
}

func newApp(c *cli.Context) (*app, error) {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.Setup(cfg.General.LogLevel, cfg.General.LogFormat, nil)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st}

	if err := a.wire(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	base, err := llm.New(ctx, llm.Options{
		Provider:    llm.Provider(cfg.LLM.Provider),
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	retryCfg := retry.LLMRetryConfig()
	retryCfg.MaxRetries = cfg.LLM.MaxRetries
	model := llm.NewResilientClient(base, retryCfg, logger)

	set := prompts.Default()
	if cfg.Prompts.Path != "" {
		if set, err = prompts.Load(cfg.Prompts.Path); err != nil {
			return err
		}
	}

	var cards tools.CardCreator
	if cfg.TrelloEnabled() {
		opts := []trello.Option{
			trello.WithRequestsPerSecond(cfg.Trello.RequestsPerSecond),
			trello.WithLogger(logger),
		}
		if cfg.Trello.BaseURL != "" {
			opts = append(opts, trello.WithBaseURL(cfg.Trello.BaseURL))
		}
		client, err := trello.NewClient(cfg.Trello.APIKey, cfg.Trello.Token, opts...)
		if err != nil {
			return fmt.Errorf("failed to create trello client: %w", err)
		}
		svc, err := trello.NewService(client, cfg.Trello.BoardID, logger)
		if err != nil {
			return err
		}
		cards = svc
	}
	registry := tools.NewRegistry(cfg.Tools.SummariesDir, cards, logger)

	a.engine = conversation.NewEngine(a.store, model, registry, set.System(nil), logger)

	a.slackAPI = slackapi.New(cfg.Slack.BotToken, slackapi.OptionAppLevelToken(cfg.Slack.AppToken))
	publisher := slack.NewPublisher(a.slackAPI, cfg.Slack.ChannelID, logger)

	a.dispatcher = dispatch.New(a.store, a.engine, publisher,
		dispatch.WithRepair(cfg.Classification.Repair),
		dispatch.WithLogger(logger),
	)

	var source dispatch.Source
	if cfg.GmailEnabled() {
		gm, err := mailbox.NewGmail(ctx, mailbox.Options{
			CredentialsFile: cfg.Gmail.CredentialsFile,
			TokenFile:       cfg.Gmail.TokenFile,
			Query:           cfg.Gmail.Query,
			MaxResults:      cfg.Gmail.MaxResults,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to gmail: %w", err)
		}
		source = gm
	}
	a.runner = jobqueue.NewRunner(a.dispatcher, source)
	return nil
}

// queue picks River when the store is postgres and the local pool otherwise
func (a *app) queue(ctx context.Context) (queue, error) {
	qcfg := jobqueue.DefaultQueueConfig()
	qcfg.MaxWorkers = a.cfg.Queue.MaxWorkers
	qcfg.FetchInterval = a.cfg.Queue.FetchInterval

	pg, ok := a.store.(*store.PostgresStore)
	if !ok {
		return jobqueue.NewLocalQueue(a.runner, qcfg, a.logger), nil
	}
	jq, err := jobqueue.NewJobQueue(pg.Pool(), a.runner, qcfg, a.logger)
	if err != nil {
		return nil, err
	}
	if err := jq.Migrate(ctx); err != nil {
		return nil, err
	}
	return jq, nil
}

type queue interface {
	slack.Jobs
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func (a *app) Close() error {
	return a.store.Close()
}
