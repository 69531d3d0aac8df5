/*
Package jobqueue runs triage work off the chat listener: mailbox fetches,
backlog passes and thread replies. With a postgres store the jobs go through
River; otherwise a LocalQueue runs them on an in-process worker pool.

For configuration options and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"
)

// FetchMailArgs represents the arguments for a mailbox fetch job
type FetchMailArgs struct {
	Reason string `json:"reason,omitempty"`
}

// Kind returns the job kind for River
func (FetchMailArgs) Kind() string {
	return "fetch_mail"
}

// HandleOneArgs represents the arguments for one backlog pass
type HandleOneArgs struct{}

// Kind returns the job kind for River
func (HandleOneArgs) Kind() string {
	return "handle_one"
}

// ThreadReplyArgs carries a chat reply to the item owning Thread
type ThreadReplyArgs struct {
	Thread string `json:"thread"`
	Text   string `json:"text"`
}

// Kind returns the job kind for River
func (ThreadReplyArgs) Kind() string {
	return "thread_reply"
}

// FetchMailWorker handles fetch_mail jobs
type FetchMailWorker struct {
	river.WorkerDefaults[FetchMailArgs]
	runner Runner
	config *QueueConfig
	logger zerolog.Logger
}

func (w *FetchMailWorker) Timeout(*river.Job[FetchMailArgs]) time.Duration {
	return w.config.JobTimeout
}

func (w *FetchMailWorker) Work(ctx context.Context, job *river.Job[FetchMailArgs]) error {
	n, err := w.runner.Fetch(ctx)
	if err != nil {
		return riverError(err)
	}
	w.logger.Info().Int64("job_id", job.ID).Str("reason", job.Args.Reason).Int("new_items", n).Msg("mailbox fetched")
	return nil
}

// HandleOneWorker handles handle_one jobs
type HandleOneWorker struct {
	river.WorkerDefaults[HandleOneArgs]
	runner Runner
	config *QueueConfig
	logger zerolog.Logger
}

func (w *HandleOneWorker) Timeout(*river.Job[HandleOneArgs]) time.Duration {
	return w.config.JobTimeout
}

func (w *HandleOneWorker) Work(ctx context.Context, job *river.Job[HandleOneArgs]) error {
	res, err := w.runner.HandleOne(ctx)
	if err != nil {
		return riverError(err)
	}
	w.logger.Info().Int64("job_id", job.ID).Str("status", res.Status.String()).Str("item_id", res.Key.ID).Msg("backlog pass finished")
	return nil
}

// ThreadReplyWorker handles thread_reply jobs
type ThreadReplyWorker struct {
	river.WorkerDefaults[ThreadReplyArgs]
	runner Runner
	config *QueueConfig
	logger zerolog.Logger
}

func (w *ThreadReplyWorker) Timeout(*river.Job[ThreadReplyArgs]) time.Duration {
	return w.config.JobTimeout
}

func (w *ThreadReplyWorker) Work(ctx context.Context, job *river.Job[ThreadReplyArgs]) error {
	reply, err := w.runner.Reply(ctx, job.Args.Thread, job.Args.Text)
	if err != nil {
		// the turn is already committed; running it again would duplicate it
		if reply != "" {
			return river.JobCancel(err)
		}
		return riverError(err)
	}
	w.logger.Info().Int64("job_id", job.ID).Str("thread", job.Args.Thread).Msg("thread reply answered")
	return nil
}

func riverError(err error) error {
	if permanent(err) {
		return river.JobCancel(err)
	}
	return err
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	logger zerolog.Logger
}

// NewJobQueue creates a River client on pool with workers for every job kind
func NewJobQueue(pool *pgxpool.Pool, runner Runner, config *QueueConfig, logger zerolog.Logger) (*JobQueue, error) {
	config = config.withDefaults()
	logger = logger.With().Str("component", "jobqueue").Logger()

	workers := river.NewWorkers()
	river.AddWorker(workers, &FetchMailWorker{runner: runner, config: config, logger: logger})
	river.AddWorker(workers, &HandleOneWorker{runner: runner, config: config, logger: logger})
	river.AddWorker(workers, &ThreadReplyWorker{runner: runner, config: config, logger: logger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		MaxAttempts:  config.MaxAttempts,
		PeriodicJobs: config.RiverPeriodicJobs(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
		logger: logger,
	}, nil
}

// Migrate applies River's schema migrations
func (jq *JobQueue) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(jq.pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	jq.logger.Debug().Int("versions", len(res.Versions)).Msg("River schema migrated")
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

func (jq *JobQueue) insert(ctx context.Context, args river.JobArgs) error {
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue %s job: %w", args.Kind(), err)
	}
	return nil
}

func (jq *JobQueue) EnqueueFetch(ctx context.Context) error {
	return jq.insert(ctx, FetchMailArgs{Reason: "request"})
}

func (jq *JobQueue) EnqueueHandleOne(ctx context.Context) error {
	return jq.insert(ctx, HandleOneArgs{})
}

func (jq *JobQueue) EnqueueReply(ctx context.Context, thread, text string) error {
	return jq.insert(ctx, ThreadReplyArgs{Thread: thread, Text: text})
}
