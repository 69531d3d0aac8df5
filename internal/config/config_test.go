package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "mailtriage.db", cfg.Store.DSN)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, "summaries", cfg.Tools.SummariesDir)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Queue.MaxWorkers)
	assert.Zero(t, cfg.Queue.FetchInterval)
	assert.True(t, cfg.Classification.Repair)
	assert.False(t, cfg.TrelloEnabled())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
driver = "postgres"
dsn = "postgres://localhost/mailtriage"

[llm]
provider = "gemini"
api_key = "from-file"

[queue]
fetch_interval = "15m"

[trello]
api_key = "k"
token = "t"
board_id = "b"
`), 0o644))
	t.Setenv("MAILTRIAGE_LLM__API_KEY", "from-env")
	t.Setenv("MAILTRIAGE_QUEUE__MAX_WORKERS", "8")
	t.Setenv("MAILTRIAGE_SLACK__CHANNEL_ID", "C42")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, 8, cfg.Queue.MaxWorkers)
	assert.Equal(t, 15*time.Minute, cfg.Queue.FetchInterval)
	assert.Equal(t, "C42", cfg.Slack.ChannelID)
	assert.True(t, cfg.TrelloEnabled())
}

func TestLoadConfigMissingFile(t *testing.T) {
	isolate(t)
	_, err := LoadConfig("does-not-exist.toml")
	assert.Error(t, err)
}

func TestInitConfigRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "mailtriage.toml")

	require.NoError(t, InitConfig(path))
	assert.ErrorContains(t, InitConfig(path), "already exists")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "C0123456789", cfg.Slack.ChannelID)
	assert.True(t, cfg.Slack.SocketMode)
	require.NoError(t, Validate(cfg))
}

func validConfig() *Config {
	var c Config
	c.Store.Driver = "sqlite"
	c.Store.DSN = "x.db"
	c.LLM.Provider = "openai"
	c.LLM.APIKey = "k"
	c.Slack.BotToken = "xoxb"
	c.Slack.AppToken = "xapp"
	c.Slack.ChannelID = "C1"
	c.Slack.SocketMode = true
	c.Queue.MaxWorkers = 1
	return &c
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(validConfig()))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, `unknown store.driver "mysql"`},
		{"postgres without dsn", func(c *Config) { c.Store.Driver, c.Store.DSN = "postgres", "" }, "store.dsn is required"},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, "llm.api_key is required for openai"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }, `unknown llm.provider "cohere"`},
		{"socket mode without app token", func(c *Config) { c.Slack.AppToken = "" }, "slack.app_token"},
		{"events without signing secret", func(c *Config) { c.Slack.SocketMode = false }, "slack.signing_secret"},
		{"partial trello", func(c *Config) { c.Trello.APIKey = "k" }, "trello needs"},
		{"no workers", func(c *Config) { c.Queue.MaxWorkers = 0 }, "queue.max_workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := Validate(c)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	c := validConfig()
	c.Store.Driver = "memory"
	c.Store.DSN = ""
	c.LLM.Provider, c.LLM.APIKey, c.LLM.Model = "ollama", "", "llama3"
	assert.NoError(t, Validate(c))
}
