package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailtriage/internal/llm"
	"github.com/mailtriage/internal/trello"
)

// CardCreator files task cards; *trello.Service implements it
type CardCreator interface {
	CreateCard(ctx context.Context, cardType, name, desc string, due time.Time) (*trello.CardResult, error)
}

// Executor runs a parsed call and returns a short confirmation
type Executor interface {
	Specs() []llm.ToolSpec
	Execute(ctx context.Context, call Call) (string, error)
}

// Registry is the Executor backed by the summaries directory and, when
// configured, the task board.
type Registry struct {
	summariesDir string
	cards        CardCreator
	logger       zerolog.Logger
	now          func() time.Time
}

// NewRegistry builds a registry. cards may be nil, in which case
// create_task_card is not declared to the model.
func NewRegistry(summariesDir string, cards CardCreator, logger zerolog.Logger) *Registry {
	if summariesDir == "" {
		summariesDir = "summaries"
	}
	return &Registry{
		summariesDir: summariesDir,
		cards:        cards,
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Registry) Specs() []llm.ToolSpec {
	specs := []llm.ToolSpec{saveSummarySpec}
	if r.cards != nil {
		specs = append(specs, createTaskCardSpec)
	}
	return specs
}

// Execute dispatches on the call variant. An UnknownCall is answered with
// UnknownResult rather than an error.
func (r *Registry) Execute(ctx context.Context, call Call) (string, error) {
	switch c := call.(type) {
	case SaveSummaryCall:
		path, err := r.saveSummary(c.Content, c.Filename)
		if err != nil {
			return "", &ExecutionError{Tool: SaveSummaryName, Message: err.Error(), Err: err}
		}
		return "Content saved successfully to " + path, nil
	case CreateCardCall:
		if r.cards == nil {
			return "", &ExecutionError{Tool: CreateTaskCardName, Message: "task board is not configured"}
		}
		res, err := r.cards.CreateCard(ctx, c.Type, c.Title, c.Description, c.Due)
		if err != nil {
			return "", &ExecutionError{Tool: CreateTaskCardName, Message: err.Error(), Err: err}
		}
		return fmt.Sprintf("Card %q created in list %s: %s", res.Name, res.List, res.URL), nil
	case UnknownCall:
		r.logger.Warn().Str("tool", c.Name).Msg("model requested an undeclared tool")
		return UnknownResult, nil
	default:
		return UnknownResult, nil
	}
}

func (r *Registry) saveSummary(content, filename string) (string, error) {
	if err := os.MkdirAll(r.summariesDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create summaries directory: %w", err)
	}

	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		filename = "summary_" + r.now().Format("20060102_150405") + ".txt"
	}
	if !strings.HasSuffix(filename, ".txt") {
		filename += ".txt"
	}

	path := filepath.Join(r.summariesDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.logger.Info().Str("tool", SaveSummaryName).Str("path", path).Msg("summary saved")
	return path, nil
}
