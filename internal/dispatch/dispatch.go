// Package dispatch decides which item the conversation engine advances next
// and carries the results to the chat platform.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mailtriage/internal/conversation"
	"github.com/mailtriage/internal/store"
	"github.com/mailtriage/pkg/models"
)

var (
	ErrNotFound                = conversation.ErrNotFound
	ErrMalformedClassification = errors.New("malformed classification")
)

// Advancer is satisfied by *conversation.Engine
type Advancer interface {
	Advance(ctx context.Context, key models.ItemKey, message string) (string, error)
}

// Publisher posts to the chat platform
type Publisher interface {
	PostClassification(ctx context.Context, c *models.Classification) (models.Thread, error)
	PostReply(ctx context.Context, thread models.Thread, text string) error
}

// Status of a backlog pass
type Status int

const (
	StatusNoItem Status = iota
	StatusClassified
	// StatusRepublished means the item already had its classification from an
	// earlier pass whose publication failed; it was published again without
	// calling the model.
	StatusRepublished
)

func (s Status) String() string {
	switch s {
	case StatusNoItem:
		return "no_item"
	case StatusClassified:
		return "classified"
	case StatusRepublished:
		return "republished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result of HandleOne
type Result struct {
	Status         Status                 `json:"-"`
	Key            models.ItemKey         `json:"key"`
	Classification *models.Classification `json:"classification,omitempty"`
	Thread         models.Thread          `json:"thread"`
}

type Dispatcher struct {
	store     store.Store
	engine    Advancer
	publisher Publisher
	repair    bool
	logger    zerolog.Logger

	// backlog passes run one at a time within a process
	backlogMu sync.Mutex
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithRepair runs jsonrepair over classification text that does not parse
func WithRepair(on bool) Option {
	return func(d *Dispatcher) { d.repair = on }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func New(st store.Store, engine Advancer, publisher Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		engine:    engine,
		publisher: publisher,
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With().Str("component", "dispatch").Logger()
	return d
}

// HandleOne classifies and publishes the oldest unresolved item. The item's
// thread is stamped only after publication succeeded, so a failed publish
// leaves it at the head of the backlog.
func (d *Dispatcher) HandleOne(ctx context.Context) (*Result, error) {
	d.backlogMu.Lock()
	defer d.backlogMu.Unlock()

	item, err := d.store.FindUnresolvedItem(ctx)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Debug().Msg("backlog is empty")
		return &Result{Status: StatusNoItem}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select backlog item: %w", err)
	}
	key := item.Key()
	log := d.logger.With().Str("item_type", string(key.Type)).Str("item_id", key.ID).Logger()

	lines, err := d.store.ListChat(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	res := &Result{Key: key}
	var text string
	if first := firstAssistant(lines); first != nil {
		res.Status = StatusRepublished
		text = first.Content
		log.Info().Msg("republishing stored classification")
	} else {
		res.Status = StatusClassified
		text, err = d.engine.Advance(ctx, key, "")
		if err != nil {
			return nil, err
		}
	}

	c, err := ParseClassification(text, d.repair)
	if err != nil {
		log.Error().Err(err).Msg("classification did not parse")
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	c.ID = key.ID
	res.Classification = c

	thread, err := d.publisher.PostClassification(ctx, c)
	if err != nil {
		log.Warn().Err(err).Msg("publication failed; item stays in backlog")
		return nil, fmt.Errorf("failed to publish %s: %w", key, err)
	}
	if err := d.store.SetThread(ctx, key, thread.Channel, thread.TS); err != nil {
		return nil, fmt.Errorf("failed to stamp thread for %s: %w", key, err)
	}
	res.Thread = thread

	log.Info().
		Str("status", res.Status.String()).
		Str("thread", thread.TS).
		Msg("item published")
	return res, nil
}

func firstAssistant(lines []*models.ChatLine) *models.ChatLine {
	for _, l := range lines {
		if l.Role == models.RoleAssistant {
			return l
		}
	}
	return nil
}

// HandleReply routes a chat reply to the item owning thread, advances it and
// posts the answer back into the same thread.
func (d *Dispatcher) HandleReply(ctx context.Context, thread, text string) (string, error) {
	item, err := d.store.FindItemByThread(ctx, thread)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: no item for thread %s", ErrNotFound, thread)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve thread: %w", err)
	}

	reply, err := d.engine.Advance(ctx, item.Key(), text)
	if err != nil {
		return "", err
	}

	if err := d.publisher.PostReply(ctx, models.Thread{Channel: item.ExternalChannel, TS: thread}, reply); err != nil {
		d.logger.Error().Err(err).
			Str("item_id", item.ID).
			Str("thread", thread).
			Msg("reply committed but not delivered")
		return reply, fmt.Errorf("failed to post reply: %w", err)
	}
	return reply, nil
}
