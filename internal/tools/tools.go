// Package tools declares the side-effect calls a model may request and
// executes them.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mailtriage/internal/llm"
)

const (
	SaveSummaryName    = "save_summary"
	CreateTaskCardName = "create_task_card"

	// UnknownResult is fed back to the model when it names a tool nobody declared
	UnknownResult = "unknown function"
)

// ErrMalformedArguments is returned by Parse when arguments do not fit the tool's schema
var ErrMalformedArguments = errors.New("malformed tool arguments")

// Call is one parsed tool invocation. The concrete type is one of
// SaveSummaryCall, CreateCardCall or UnknownCall.
type Call interface {
	ToolName() string
	isCall()
}

type SaveSummaryCall struct {
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
}

type CreateCardCall struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	Due         time.Time `json:"-"`
}

// UnknownCall carries a tool name the model invented
type UnknownCall struct {
	Name      string
	Arguments string
}

func (SaveSummaryCall) ToolName() string { return SaveSummaryName }
func (CreateCardCall) ToolName() string  { return CreateTaskCardName }
func (c UnknownCall) ToolName() string   { return c.Name }

func (SaveSummaryCall) isCall() {}
func (CreateCardCall) isCall()  {}
func (UnknownCall) isCall()     {}

var saveSummarySpec = llm.ToolSpec{
	Name:        SaveSummaryName,
	Description: "Save content to a local file",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The content to save",
			},
			"filename": map[string]any{
				"type":        "string",
				"description": "Optional filename (will generate if not provided)",
			},
		},
		"required": []any{"content"},
	},
}

var createTaskCardSpec = llm.ToolSpec{
	Name:        CreateTaskCardName,
	Description: "Create a card on the task board for something the user needs to act on",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short card title",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Card body",
			},
			"type": map[string]any{
				"type":        "string",
				"description": "Kind of card; decides which list it is filed under",
				"enum":        []any{"meeting", "event", "general"},
			},
			"due": map[string]any{
				"type":        "string",
				"description": "Optional ISO-8601 due date",
			},
		},
		"required": []any{"title"},
	},
}

var schemas = map[string]*openapi3.Schema{
	SaveSummaryName:    mustSchema(saveSummarySpec.Parameters),
	CreateTaskCardName: mustSchema(createTaskCardSpec.Parameters),
}

func mustSchema(params map[string]any) *openapi3.Schema {
	raw, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	var s openapi3.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		panic(err)
	}
	return &s
}

// Parse validates arguments against the named tool's schema and decodes them.
// Names outside the declared set become an UnknownCall, never an error.
func Parse(name, arguments string) (Call, error) {
	schema, ok := schemas[name]
	if !ok {
		return UnknownCall{Name: name, Arguments: arguments}, nil
	}

	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	var generic any
	if err := json.Unmarshal([]byte(arguments), &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
	}
	if err := schema.VisitJSON(generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
	}

	switch name {
	case SaveSummaryName:
		var c SaveSummaryCall
		if err := json.Unmarshal([]byte(arguments), &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
		}
		return c, nil
	default:
		var raw struct {
			CreateCardCall
			Due string `json:"due"`
		}
		if err := json.Unmarshal([]byte(arguments), &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArguments, name, err)
		}
		c := raw.CreateCardCall
		if raw.Due != "" {
			due, err := parseDue(raw.Due)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: due: %v", ErrMalformedArguments, name, err)
			}
			c.Due = due
		}
		return c, nil
	}
}

func parseDue(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", v)
}

// ExecutionError is a tool failure; the conversation continues with its message
type ExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Tool, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
