package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mailtriage/internal/retry"
	"github.com/mailtriage/pkg/models"
)

// fakeModel records the last request and replays a canned response
type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangchainClientMapsRolesAndTools(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok", StopReason: "end_turn"}}}}
	client := NewLangchainClient(model, Options{Temperature: 0.2, MaxTokens: 64}, zerolog.Nop())

	lines := []Line{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCall: &ToolCall{ID: "c1", Name: "save_summary", Arguments: `{"content":"x"}`}},
		{Role: models.RoleFunction, Name: "save_summary", ToolCallID: "c1", Content: "done"},
	}
	tools := []ToolSpec{{Name: "save_summary", Description: "d", Parameters: map[string]any{"type": "object"}}}

	comp, err := client.Complete(context.Background(), lines, tools)
	require.NoError(t, err)
	assert.Equal(t, FinishStop, comp.FinishReason)
	assert.Equal(t, "ok", comp.Text)

	require.Len(t, model.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[2].Role)
	call, ok := model.messages[2].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "save_summary", call.FunctionCall.Name)
	assert.Equal(t, llms.ChatMessageTypeTool, model.messages[3].Role)
	result, ok := model.messages[3].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "c1", result.ToolCallID)
	assert.Equal(t, "done", result.Content)

	require.Len(t, model.opts.Tools, 1)
	assert.Equal(t, "save_summary", model.opts.Tools[0].Function.Name)
	assert.Equal(t, 64, model.opts.MaxTokens)
}

func TestLangchainClientToolCallCompletion(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		StopReason: "tool_calls",
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "create_task_card", Arguments: `{"title":"t"}`},
		}},
	}}}}
	client := NewLangchainClient(model, Options{}, zerolog.Nop())

	comp, err := client.Complete(context.Background(), []Line{{Role: models.RoleUser, Content: "x"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, FinishToolCall, comp.FinishReason)
	require.Len(t, comp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "create_task_card", Arguments: `{"title":"t"}`}, comp.ToolCalls[0])
	assert.Empty(t, model.opts.Tools)
}

func TestLangchainClientEmptyAndFailure(t *testing.T) {
	client := NewLangchainClient(&fakeModel{resp: &llms.ContentResponse{}}, Options{}, zerolog.Nop())
	comp, err := client.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, FinishNone, comp.FinishReason)
	assert.Empty(t, comp.Text)

	client = NewLangchainClient(&fakeModel{err: errors.New("401 unauthorized")}, Options{}, zerolog.Nop())
	_, err = client.Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNormalizeStopReason(t *testing.T) {
	cases := map[string]FinishReason{
		"stop":       FinishStop,
		"STOP":       FinishStop,
		"end_turn":   FinishStop,
		"max_tokens": FinishLength,
		"length":     FinishLength,
		"tool_use":   FinishToolCall,
		"safety":     FinishReason("safety"),
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeStopReason(in, false), in)
	}
	assert.Equal(t, FinishToolCall, normalizeStopReason("stop", true))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "carrier-pigeon"}, zerolog.Nop())
	assert.Error(t, err)
}

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(ctx context.Context, lines []Line, tools []ToolSpec) (*Completion, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &Completion{FinishReason: FinishStop, Text: "fine"}, nil
}

func fastRetry() retry.RetryConfig {
	return retry.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestResilientClientRetriesTransientFailures(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		errors.Join(ErrUnavailable, errors.New("503 service unavailable")),
		errors.Join(ErrUnavailable, errors.New("connection reset by peer")),
	}}
	rc := NewResilientClient(inner, fastRetry(), zerolog.Nop())

	comp, err := rc.Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fine", comp.Text)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, Stats{Requests: 1, Successful: 1, Retries: 2}, rc.Stats())
}

func TestResilientClientDoesNotRetryAuthFailure(t *testing.T) {
	inner := &scriptedClient{errs: []error{errors.New("401 unauthorized")}}
	rc := NewResilientClient(inner, fastRetry(), zerolog.Nop())

	_, err := rc.Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, inner.calls)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}\n```\n"))
	assert.Equal(t, `{"a":1}`, StripCodeFence(`  {"a":1} `))
}

func TestRepairJSON(t *testing.T) {
	out, repaired, err := RepairJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, `{"a": 1}`, out)

	out, repaired, err = RepairJSON(`{"a": 1, "b": [1, 2,],}`)
	require.NoError(t, err)
	assert.True(t, repaired)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, float64(1), v["a"])
}
