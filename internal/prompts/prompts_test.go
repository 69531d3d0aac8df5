package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPromptRendersWithoutPlaceholders(t *testing.T) {
	s := Default()
	out := s.System(nil)
	assert.Contains(t, out, "the mailbox owner")
	assert.Contains(t, out, `"time_received"`)
	assert.NotContains(t, out, "{{VAR:")

	out = s.System(map[string]string{"owner": "Dana"})
	assert.Contains(t, out, "working for Dana.")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_prompt: |\n  Hello {{VAR:name|default=\"stranger\"}}\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello stranger", s.System(nil))
	assert.Equal(t, "Hello Bo", s.System(map[string]string{"name": "Bo"}))
}

func TestLoadRejectsEmptyPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vars: {a: b}\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParsePlaceholders_OptionsParsing(t *testing.T) {
	body := "Intro {{VAR:title|default=\"(untitled)\"}} -- policy {{VAR:policy|default='be kind\\nrespect'}} -- {{VAR:bare}}"
	phs := ParsePlaceholders(body)
	require.Len(t, phs, 3)

	assert.Equal(t, "title", phs[0].Name)
	assert.Equal(t, "(untitled)", phs[0].Options["default"])
	assert.Equal(t, "policy", phs[1].Name)
	assert.Equal(t, "be kind\nrespect", phs[1].Options["default"])
	assert.Equal(t, "bare", phs[2].Name)
	assert.Empty(t, phs[2].Options)

	assert.Equal(t, "Intro (untitled) -- policy be kind\nrespect -- ", Substitute(body, nil))
}
