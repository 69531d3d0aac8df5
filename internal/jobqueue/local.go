package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull    = errors.New("job queue is full")
	ErrQueueStopped = errors.New("job queue is not running")
)

type localJob struct {
	kind string
	run  func(ctx context.Context) error
}

// LocalQueue runs jobs on an in-process worker pool. Jobs are not persisted
// and a failed job is logged, not retried.
type LocalQueue struct {
	runner Runner
	config *QueueConfig
	logger zerolog.Logger
	jobs   chan localJob

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func NewLocalQueue(runner Runner, config *QueueConfig, logger zerolog.Logger) *LocalQueue {
	config = config.withDefaults()
	return &LocalQueue{
		runner: runner,
		config: config,
		logger: logger.With().Str("component", "jobqueue").Logger(),
		jobs:   make(chan localJob, config.Backlog),
	}
}

// Start launches MaxWorkers workers and, when configured, the periodic fetch
func (q *LocalQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return errors.New("job queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.config.MaxWorkers; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}
	if q.config.FetchInterval > 0 {
		g.Go(func() error {
			q.schedule(gctx)
			return nil
		})
	}
	go func() { q.done <- g.Wait() }()

	q.logger.Info().Int("workers", q.config.MaxWorkers).Dur("fetch_interval", q.config.FetchInterval).Msg("local job queue started")
	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (q *LocalQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		if dropped := len(q.jobs); dropped > 0 {
			q.logger.Warn().Int("dropped", dropped).Msg("queued jobs dropped on stop")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.run(ctx, job)
		}
	}
}

func (q *LocalQueue) run(ctx context.Context, job localJob) {
	ctx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := job.run(ctx); err != nil {
		evt := q.logger.Error()
		if permanent(err) {
			evt = q.logger.Warn()
		}
		evt.Err(err).Str("kind", job.kind).Msg("job failed")
		return
	}
	q.logger.Debug().Str("kind", job.kind).Dur("took", time.Since(start)).Msg("job finished")
}

func (q *LocalQueue) schedule(ctx context.Context) {
	t := time.NewTicker(q.config.FetchInterval)
	defer t.Stop()
	for {
		if err := q.EnqueueFetch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn().Err(err).Msg("scheduled fetch skipped")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (q *LocalQueue) enqueue(ctx context.Context, job localJob) error {
	q.mu.Lock()
	running := q.cancel != nil
	q.mu.Unlock()
	if !running {
		return ErrQueueStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%w: cannot queue %s", ErrQueueFull, job.kind)
	}
}

func (q *LocalQueue) EnqueueFetch(ctx context.Context) error {
	return q.enqueue(ctx, localJob{kind: FetchMailArgs{}.Kind(), run: func(ctx context.Context) error {
		n, err := q.runner.Fetch(ctx)
		if err != nil {
			return err
		}
		q.logger.Info().Int("new_items", n).Msg("mailbox fetched")
		return nil
	}})
}

func (q *LocalQueue) EnqueueHandleOne(ctx context.Context) error {
	return q.enqueue(ctx, localJob{kind: HandleOneArgs{}.Kind(), run: func(ctx context.Context) error {
		res, err := q.runner.HandleOne(ctx)
		if err != nil {
			return err
		}
		q.logger.Info().Str("status", res.Status.String()).Str("item_id", res.Key.ID).Msg("backlog pass finished")
		return nil
	}})
}

func (q *LocalQueue) EnqueueReply(ctx context.Context, thread, text string) error {
	return q.enqueue(ctx, localJob{kind: ThreadReplyArgs{}.Kind(), run: func(ctx context.Context) error {
		_, err := q.runner.Reply(ctx, thread, text)
		return err
	}})
}
