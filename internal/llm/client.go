// Package llm is the model client: an ordered list of role-tagged lines and
// a set of callable tool signatures go in, one completion comes out.
package llm

import (
	"context"
	"errors"

	"github.com/mailtriage/pkg/models"
)

// ErrUnavailable marks transport and authentication failures of the model
// backend, as opposed to a response that simply carried no text.
var ErrUnavailable = errors.New("model unavailable")

// FinishReason is the normalized stop condition of a completion
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishToolCall FinishReason = "tool_call"
	FinishLength   FinishReason = "length"
	FinishNone     FinishReason = ""
)

// ToolCall is a model request to invoke a named tool
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Line is one prompt message.
// ToolCall is set on assistant lines that carry a tool invocation;
// ToolCallID links a function result line to that invocation.
type Line struct {
	Role       models.Role `json:"role"`
	Content    string      `json:"content"`
	Name       string      `json:"name,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ToolSpec declares a callable tool with a JSON-schema parameter object
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Completion is the single choice returned for a prompt
type Completion struct {
	FinishReason FinishReason `json:"finish_reason"`
	Text         string       `json:"text,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
}

// Client completes prompts. Implementations return an error wrapping
// ErrUnavailable on transport or auth failure and an empty Completion when
// the backend answered without choices.
type Client interface {
	Complete(ctx context.Context, lines []Line, tools []ToolSpec) (*Completion, error)
}
