/*
Package jobqueue configuration - tunable parameters for the triage job queues.

Both the River queue (postgres store) and the local pool (sqlite or memory
store) read the same QueueConfig:

  - MaxWorkers bounds concurrent jobs. Each job may hold a model call for
    tens of seconds, so this also caps parallel model traffic.
  - MaxAttempts bounds River retries for a failed job. Permanent failures
    (unknown thread, malformed classification) are cancelled immediately.
  - FetchInterval schedules a periodic mailbox fetch; zero disables it.
  - JobTimeout bounds a single job including its model round trips.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers    int           // concurrent jobs (default: 4)
	MaxAttempts   int           // River attempts per job (default: 5)
	FetchInterval time.Duration // periodic fetch, zero disables (default: off)
	JobTimeout    time.Duration // per job (default: 5 minutes)
	Backlog       int           // local queue buffer (default: 64)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  4,
		MaxAttempts: 5,
		JobTimeout:  5 * time.Minute,
		Backlog:     64,
	}
}

func (c *QueueConfig) withDefaults() *QueueConfig {
	d := DefaultQueueConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxWorkers <= 0 {
		out.MaxWorkers = d.MaxWorkers
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = d.MaxAttempts
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = d.JobTimeout
	}
	if out.Backlog <= 0 {
		out.Backlog = d.Backlog
	}
	return &out
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// RiverPeriodicJobs returns the scheduled fetch, if one is configured
func (c *QueueConfig) RiverPeriodicJobs() []*river.PeriodicJob {
	if c.FetchInterval <= 0 {
		return nil
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(c.FetchInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return FetchMailArgs{Reason: "schedule"}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
