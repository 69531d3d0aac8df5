package conversation

import (
	"errors"
	"fmt"

	"github.com/mailtriage/pkg/models"
)

// State of one item's conversation, derived from its persisted lines
type State int

const (
	StateNotStarted State = iota
	StateAwaitingModel
	StateAwaitingUserReply
	// StateInconsistent means the last persisted line is not an assistant
	// line. Such a transcript is never advanced.
	StateInconsistent
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateAwaitingUserReply:
		return "awaiting_user_reply"
	case StateInconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// deriveState looks only at the persisted line count and the last role
func deriveState(lines []*models.ChatLine) State {
	if len(lines) == 0 {
		return StateNotStarted
	}
	if lines[len(lines)-1].Role == models.RoleAssistant {
		return StateAwaitingUserReply
	}
	return StateInconsistent
}

var (
	ErrNotFound               = errors.New("item not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrModelUnavailable       = errors.New("model unavailable")
	ErrEmptyModelResponse     = errors.New("empty model response")
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
	ErrUnsupportedToolChain   = errors.New("unsupported tool chain")
	// ErrConcurrentTurn reports that another writer committed to the
	// transcript first. Nothing was persisted and the turn may be retried.
	ErrConcurrentTurn = errors.New("conversation advanced concurrently")
)

// TurnError describes a failed Advance. It unwraps to one of the Err* sentinels
// (or to a store error when persistence itself failed).
type TurnError struct {
	Key   models.ItemKey
	State State
	Op    string
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s %s (state %s): %v", e.Op, e.Key, e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Transcript is an item with its persisted conversation
type Transcript struct {
	Item  *models.Item       `json:"item"`
	State State              `json:"-"`
	Lines []*models.ChatLine `json:"lines"`
}
