package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailtriage/internal/retry"
)

// ResilientClient wraps a Client with retry logic and timeout handling.
// Only failures wrapping ErrUnavailable that look transient are retried;
// an empty completion is returned to the caller as-is.
type ResilientClient struct {
	client      Client
	retryConfig retry.RetryConfig
	timeout     time.Duration
	logger      zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats counts what the wrapper did over its lifetime
type Stats struct {
	Requests   int
	Successful int
	Retries    int
}

// NewResilientClient creates a new resilient client wrapper
func NewResilientClient(client Client, config retry.RetryConfig, logger zerolog.Logger) *ResilientClient {
	if config.Retryable == nil {
		config.Retryable = isTransient
	}
	return &ResilientClient{
		client:      client,
		retryConfig: config,
		logger:      logger,
	}
}

// NewResilientClientWithDefaults uses retry.LLMRetryConfig
func NewResilientClientWithDefaults(client Client, logger zerolog.Logger) *ResilientClient {
	return NewResilientClient(client, retry.LLMRetryConfig(), logger)
}

// WithTimeout bounds each whole Complete call, retries included
func (rc *ResilientClient) WithTimeout(d time.Duration) *ResilientClient {
	rc.timeout = d
	return rc
}

// Complete implements Client
func (rc *ResilientClient) Complete(ctx context.Context, lines []Line, tools []ToolSpec) (*Completion, error) {
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	var completion *Completion
	result := retry.RetryWithBackoffAndReason(ctx, rc.retryConfig, func() (error, string) {
		c, err := rc.client.Complete(ctx, lines, tools)
		if err != nil {
			return err, err.Error()
		}
		completion = c
		return nil, "success"
	}, rc.logger)

	rc.mu.Lock()
	rc.stats.Requests++
	rc.stats.Retries += result.Attempts - 1
	if result.Success {
		rc.stats.Successful++
	}
	rc.mu.Unlock()

	if !result.Success {
		err := result.LastError
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Join(ErrUnavailable, err)
		}
		rc.logger.Error().Err(err).
			Int("attempts", result.Attempts).
			Dur("duration", result.TotalDuration).
			Strs("reasons", result.RetryReasons).
			Msg("model request failed")
		return nil, err
	}
	return completion, nil
}

// Stats returns a copy of the accumulated counters
func (rc *ResilientClient) Stats() Stats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stats
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return retry.IsRetryableError(err)
}
