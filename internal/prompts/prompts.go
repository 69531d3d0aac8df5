// Package prompts loads the system primer the model sees before every item.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_prompts.yaml
var defaultPrompts []byte

// Set is the decoded prompts file
type Set struct {
	SystemPrompt string            `yaml:"system_prompt"`
	Vars         map[string]string `yaml:"vars,omitempty"`
}

// Default returns the embedded prompt set
func Default() *Set {
	s, err := parse(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return s
}

// Load reads a prompts file; an empty path yields the embedded default
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	s, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func parse(raw []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		return nil, errors.New("system_prompt is empty")
	}
	return &s, nil
}

// System renders the system prompt. extra overrides the file's vars.
func (s *Set) System(extra map[string]string) string {
	vars := make(map[string]string, len(s.Vars)+len(extra))
	for k, v := range s.Vars {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}
	return strings.TrimSpace(Substitute(s.SystemPrompt, vars))
}
