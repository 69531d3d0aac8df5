package jobqueue

import (
	"context"
	"errors"

	"github.com/mailtriage/internal/conversation"
	"github.com/mailtriage/internal/dispatch"
)

// ErrNoSource is returned by a fetch when no mailbox is configured
var ErrNoSource = errors.New("no mail source configured")

// Runner performs the work behind each job kind
type Runner interface {
	Fetch(ctx context.Context) (int, error)
	HandleOne(ctx context.Context) (*dispatch.Result, error)
	Reply(ctx context.Context, thread, text string) (string, error)
}

// DispatchRunner runs jobs against a dispatcher and an optional mail source
type DispatchRunner struct {
	dispatcher *dispatch.Dispatcher
	source     dispatch.Source
}

func NewRunner(d *dispatch.Dispatcher, src dispatch.Source) *DispatchRunner {
	return &DispatchRunner{dispatcher: d, source: src}
}

func (r *DispatchRunner) Fetch(ctx context.Context) (int, error) {
	if r.source == nil {
		return 0, ErrNoSource
	}
	return r.dispatcher.Ingest(ctx, r.source)
}

func (r *DispatchRunner) HandleOne(ctx context.Context) (*dispatch.Result, error) {
	return r.dispatcher.HandleOne(ctx)
}

func (r *DispatchRunner) Reply(ctx context.Context, thread, text string) (string, error) {
	return r.dispatcher.HandleReply(ctx, thread, text)
}

// permanent reports failures that a retry cannot fix
func permanent(err error) bool {
	return errors.Is(err, ErrNoSource) ||
		errors.Is(err, dispatch.ErrNotFound) ||
		errors.Is(err, dispatch.ErrMalformedClassification) ||
		errors.Is(err, conversation.ErrInvalidTransition)
}
