// Package conversation advances one item's dialogue with the model: it
// builds the prompt from the persisted transcript, runs at most one tool
// round trip and commits the new user/assistant lines together.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailtriage/internal/llm"
	"github.com/mailtriage/internal/store"
	"github.com/mailtriage/internal/tools"
	"github.com/mailtriage/pkg/models"
)

// Engine runs Advance for any number of items; calls for the same key are
// serialized, different keys proceed in parallel.
type Engine struct {
	store        store.Store
	model        llm.Client
	tools        tools.Executor
	systemPrompt string
	logger       zerolog.Logger
	locks        *keyLocks
}

func NewEngine(st store.Store, model llm.Client, executor tools.Executor, systemPrompt string, logger zerolog.Logger) *Engine {
	return &Engine{
		store:        st,
		model:        model,
		tools:        executor,
		systemPrompt: systemPrompt,
		logger:       logger.With().Str("component", "conversation").Logger(),
		locks:        newKeyLocks(),
	}
}

// Advance moves the conversation for key one turn forward and returns the
// assistant's text. message must be empty for the first turn and non-empty
// afterwards. On any error nothing is persisted.
func (e *Engine) Advance(ctx context.Context, key models.ItemKey, message string) (string, error) {
	unlock := e.locks.lock(key)
	defer unlock()

	log := e.logger.With().
		Str("item_type", string(key.Type)).
		Str("item_id", key.ID).
		Logger()

	item, err := e.store.GetItem(ctx, key)
	if err != nil {
		return "", e.fail(log, key, StateNotStarted, "load", storeErr(err))
	}
	lines, err := e.store.ListChat(ctx, key)
	if err != nil {
		return "", e.fail(log, key, StateNotStarted, "load", err)
	}

	state := deriveState(lines)
	if err := checkTransition(state, message); err != nil {
		return "", e.fail(log, key, state, "advance", err)
	}
	log.Debug().Str("from", state.String()).Str("state", StateAwaitingModel.String()).Msg("advancing")

	prompt := e.buildPrompt(item, lines, message)
	text, err := e.complete(ctx, log, prompt)
	if err != nil {
		return "", e.fail(log, key, state, "complete", err)
	}

	commit := make([]*models.ChatLine, 0, 2)
	if message != "" {
		commit = append(commit, &models.ChatLine{Type: key.Type, ID: key.ID, Role: models.RoleUser, Content: message})
	}
	commit = append(commit, &models.ChatLine{Type: key.Type, ID: key.ID, Role: models.RoleAssistant, Content: text})

	var lastSeq int64
	if len(lines) > 0 {
		lastSeq = lines[len(lines)-1].Seq
	}
	if err := e.store.AppendChat(ctx, key, lastSeq, commit); err != nil {
		return "", e.fail(log, key, state, "commit", storeErr(err))
	}

	log.Info().
		Str("from", state.String()).
		Str("state", StateAwaitingUserReply.String()).
		Int("committed", len(commit)).
		Msg("conversation advanced")
	return text, nil
}

func checkTransition(state State, message string) error {
	switch state {
	case StateNotStarted:
		if message != "" {
			return fmt.Errorf("%w: first turn takes no message", ErrInvalidTransition)
		}
	case StateAwaitingUserReply:
		if strings.TrimSpace(message) == "" {
			return fmt.Errorf("%w: reply must not be empty", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: transcript does not end with an assistant line", ErrInvalidTransition)
	}
	return nil
}

// buildPrompt is [system, user(item content), persisted lines..., user(message)?]
func (e *Engine) buildPrompt(item *models.Item, lines []*models.ChatLine, message string) []llm.Line {
	prompt := make([]llm.Line, 0, len(lines)+3)
	prompt = append(prompt,
		llm.Line{Role: models.RoleSystem, Content: e.systemPrompt},
		llm.Line{Role: models.RoleUser, Content: item.Content},
	)
	for _, l := range lines {
		prompt = append(prompt, llm.Line{Role: l.Role, Content: l.Content, Name: l.Name})
	}
	if message != "" {
		prompt = append(prompt, llm.Line{Role: models.RoleUser, Content: message})
	}
	return prompt
}

// complete calls the model and runs at most one tool round trip
func (e *Engine) complete(ctx context.Context, log zerolog.Logger, prompt []llm.Line) (string, error) {
	specs := e.tools.Specs()

	comp, err := e.model.Complete(ctx, prompt, specs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	switch len(comp.ToolCalls) {
	case 0:
		return finalText(log, comp)
	case 1:
	default:
		return "", fmt.Errorf("%w: %d tool calls in one completion", ErrUnsupportedToolChain, len(comp.ToolCalls))
	}

	tc := comp.ToolCalls[0]
	call, err := tools.Parse(tc.Name, tc.Arguments)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedToolArguments, err)
	}

	result, err := e.tools.Execute(ctx, call)
	if err != nil {
		msg := err.Error()
		var execErr *tools.ExecutionError
		if errors.As(err, &execErr) {
			msg = execErr.Message
		}
		log.Warn().Err(err).Str("tool", tc.Name).Msg("tool execution failed")
		result = "Error: " + msg
	} else {
		log.Info().Str("tool", tc.Name).Msg("tool executed")
	}

	if tc.ID == "" {
		tc.ID = "call_" + uuid.NewString()
	}
	followUp := make([]llm.Line, len(prompt), len(prompt)+2)
	copy(followUp, prompt)
	followUp = append(followUp,
		llm.Line{Role: models.RoleAssistant, Name: tc.Name, ToolCall: &tc},
		llm.Line{Role: models.RoleFunction, Name: tc.Name, ToolCallID: tc.ID, Content: result},
	)

	comp, err = e.model.Complete(ctx, followUp, specs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if len(comp.ToolCalls) > 0 {
		return "", fmt.Errorf("%w: follow-up requested %s", ErrUnsupportedToolChain, comp.ToolCalls[0].Name)
	}
	return finalText(log, comp)
}

func finalText(log zerolog.Logger, comp *llm.Completion) (string, error) {
	if strings.TrimSpace(comp.Text) == "" {
		return "", fmt.Errorf("%w: finish reason %q", ErrEmptyModelResponse, comp.FinishReason)
	}
	if comp.FinishReason != llm.FinishStop {
		log.Warn().Str("finish_reason", string(comp.FinishReason)).Msg("accepting completion that did not stop cleanly")
	}
	return comp.Text, nil
}

func (e *Engine) fail(log zerolog.Logger, key models.ItemKey, state State, op string, err error) error {
	log.Error().Err(err).Str("state", state.String()).Str("op", op).Msg("advance failed")
	return &TurnError{Key: key, State: state, Op: op, Err: err}
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConcurrentTurn, err)
	default:
		return err
	}
}

// State reports the conversation state of key. It is StateAwaitingModel
// while an Advance for key is running in this process.
func (e *Engine) State(ctx context.Context, key models.ItemKey) (State, error) {
	if _, err := e.store.GetItem(ctx, key); err != nil {
		return StateNotStarted, storeErr(err)
	}
	if e.locks.busy(key) {
		return StateAwaitingModel, nil
	}
	lines, err := e.store.ListChat(ctx, key)
	if err != nil {
		return StateNotStarted, err
	}
	return deriveState(lines), nil
}

// Transcript returns the item and its persisted lines
func (e *Engine) Transcript(ctx context.Context, key models.ItemKey) (*Transcript, error) {
	item, err := e.store.GetItem(ctx, key)
	if err != nil {
		return nil, storeErr(err)
	}
	lines, err := e.store.ListChat(ctx, key)
	if err != nil {
		return nil, err
	}
	state := deriveState(lines)
	if e.locks.busy(key) {
		state = StateAwaitingModel
	}
	return &Transcript{Item: item, State: state, Lines: lines}, nil
}
