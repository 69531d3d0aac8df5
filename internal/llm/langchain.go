package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mailtriage/pkg/models"
)

// Provider represents a model backend type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// Options configures a langchain-backed client
type Options struct {
	Provider    Provider `json:"provider"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// LangchainClient implements Client on top of a langchaingo model
type LangchainClient struct {
	llm     llms.Model
	options Options
	logger  zerolog.Logger
}

// NewLangchainClient wraps an already constructed model
func NewLangchainClient(model llms.Model, options Options, logger zerolog.Logger) *LangchainClient {
	return &LangchainClient{llm: model, options: options, logger: logger}
}

// New builds the langchaingo model for options.Provider
func New(ctx context.Context, options Options, logger zerolog.Logger) (*LangchainClient, error) {
	var model llms.Model
	var err error

	logger.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating model client")

	switch options.Provider {
	case ProviderOpenAI, "":
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}
	return NewLangchainClient(model, options, logger), nil
}

func createOpenAIModel(options Options) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options Options) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.Model))
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(options Options) (llms.Model, error) {
	return anthropic.New(
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	)
}

func createOllamaModel(options Options) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

// Complete sends the prompt with the declared tools and normalizes the first choice
func (c *LangchainClient) Complete(ctx context.Context, lines []Line, tools []ToolSpec) (*Completion, error) {
	callOptions := []llms.CallOption{
		llms.WithTemperature(c.options.Temperature),
	}
	if c.options.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(c.options.MaxTokens))
	}
	if len(tools) > 0 {
		callOptions = append(callOptions, llms.WithTools(toLangchainTools(tools)))
	}

	resp, err := c.llm.GenerateContent(ctx, toMessages(lines), callOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		c.logger.Warn().Msg("model returned no choices")
		return &Completion{FinishReason: FinishNone}, nil
	}
	if len(resp.Choices) > 1 {
		c.logger.Debug().Int("choices", len(resp.Choices)).Msg("using first of several choices")
	}
	return fromChoice(resp.Choices[0]), nil
}

func toMessages(lines []Line) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(lines))
	for _, l := range lines {
		switch l.Role {
		case models.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, l.Content))
		case models.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, l.Content))
		case models.RoleAssistant:
			if l.ToolCall != nil {
				out = append(out, llms.MessageContent{
					Role: llms.ChatMessageTypeAI,
					Parts: []llms.ContentPart{llms.ToolCall{
						ID:   l.ToolCall.ID,
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      l.ToolCall.Name,
							Arguments: l.ToolCall.Arguments,
						},
					}},
				})
				continue
			}
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, l.Content))
		case models.RoleFunction:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: l.ToolCallID,
					Name:       l.Name,
					Content:    l.Content,
				}},
			})
		}
	}
	return out
}

func toLangchainTools(specs []ToolSpec) []llms.Tool {
	out := make([]llms.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

func fromChoice(choice *llms.ContentChoice) *Completion {
	comp := &Completion{Text: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		comp.ToolCalls = append(comp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	if len(comp.ToolCalls) == 0 && choice.FuncCall != nil {
		comp.ToolCalls = append(comp.ToolCalls, ToolCall{
			Name:      choice.FuncCall.Name,
			Arguments: choice.FuncCall.Arguments,
		})
	}
	comp.FinishReason = normalizeStopReason(choice.StopReason, len(comp.ToolCalls) > 0)
	return comp
}

// Backends name the same conditions differently (stop, end_turn, STOP, tool_use...).
func normalizeStopReason(reason string, hasToolCalls bool) FinishReason {
	if hasToolCalls {
		return FinishToolCall
	}
	switch strings.ToLower(reason) {
	case "stop", "end_turn", "stop_sequence", "":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls", "tool_use", "function_call":
		return FinishToolCall
	default:
		return FinishReason(strings.ToLower(reason))
	}
}
