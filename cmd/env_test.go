package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtriage/internal/config"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
MAILTRIAGE_TEST_A=plain
export MAILTRIAGE_TEST_B="quoted value"
MAILTRIAGE_TEST_C='single'
not a pair
`), 0o600))
	t.Setenv("MAILTRIAGE_TEST_A", "old")
	t.Setenv("MAILTRIAGE_TEST_B", "")
	t.Setenv("MAILTRIAGE_TEST_C", "")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "plain", os.Getenv("MAILTRIAGE_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("MAILTRIAGE_TEST_B"))
	assert.Equal(t, "single", os.Getenv("MAILTRIAGE_TEST_C"))

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "xo****yz", maskSecret("xoxb-1234-xyz"))
}

func TestCheckCredentials(t *testing.T) {
	var cfg config.Config
	cfg.LLM.Provider = "openai"
	cfg.Slack.SocketMode = true
	cfg.Slack.BotToken = "xoxb-123456789"

	res := CheckCredentials(&cfg)
	assert.Equal(t, []string{"llm.api_key", "slack.app_token"}, res.Missing)
	assert.Equal(t, map[string]string{"slack.bot_token": "xo****89"}, res.Present)

	cfg.LLM.Provider = "ollama"
	cfg.Slack.AppToken = "xapp"
	assert.Empty(t, CheckCredentials(&cfg).Missing)
}
