package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "MAILTRIAGE_"

var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	General struct {
		LogLevel  string `koanf:"log_level"`
		LogFormat string `koanf:"log_format"`
	} `koanf:"general"`

	Store struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"store"`

	LLM struct {
		Provider    string  `koanf:"provider"`
		Model       string  `koanf:"model"`
		APIKey      string  `koanf:"api_key"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
		MaxTokens   int     `koanf:"max_tokens"`
		MaxRetries  int     `koanf:"max_retries"`
	} `koanf:"llm"`

	Prompts struct {
		Path string `koanf:"path"`
	} `koanf:"prompts"`

	Gmail struct {
		CredentialsFile string `koanf:"credentials_file"`
		TokenFile       string `koanf:"token_file"`
		Query           string `koanf:"query"`
		MaxResults      int64  `koanf:"max_results"`
	} `koanf:"gmail"`

	Slack struct {
		BotToken      string `koanf:"bot_token"`
		AppToken      string `koanf:"app_token"`
		ChannelID     string `koanf:"channel_id"`
		SigningSecret string `koanf:"signing_secret"`
		SocketMode    bool   `koanf:"socket_mode"`
	} `koanf:"slack"`

	Trello struct {
		APIKey            string  `koanf:"api_key"`
		Token             string  `koanf:"token"`
		BoardID           string  `koanf:"board_id"`
		BaseURL           string  `koanf:"base_url"`
		RequestsPerSecond float64 `koanf:"requests_per_second"`
	} `koanf:"trello"`

	Tools struct {
		SummariesDir string `koanf:"summaries_dir"`
	} `koanf:"tools"`

	Server struct {
		Port      int    `koanf:"port"`
		JWTSecret string `koanf:"jwt_secret"`
	} `koanf:"server"`

	Queue struct {
		MaxWorkers    int           `koanf:"max_workers"`
		FetchInterval time.Duration `koanf:"fetch_interval"`
	} `koanf:"queue"`

	Classification struct {
		Repair bool `koanf:"repair"`
	} `koanf:"classification"`
}

// TrelloEnabled reports whether card creation can be offered to the model
func (c *Config) TrelloEnabled() bool {
	return c.Trello.APIKey != "" && c.Trello.Token != "" && c.Trello.BoardID != ""
}

// GmailEnabled reports whether a mailbox source is configured
func (c *Config) GmailEnabled() bool {
	return c.Gmail.CredentialsFile != "" && c.Gmail.TokenFile != ""
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.log_level":          "info",
		"general.log_format":         "pretty",
		"store.driver":               "sqlite",
		"store.dsn":                  "mailtriage.db",
		"llm.provider":               "openai",
		"llm.model":                  "gpt-4o-mini",
		"llm.temperature":            0.2,
		"llm.max_retries":            3,
		"gmail.query":                "is:unread in:inbox",
		"gmail.max_results":          50,
		"trello.requests_per_second": 5.0,
		"tools.summaries_dir":        "summaries",
		"server.port":                8888,
		"queue.max_workers":          4,
		"queue.fetch_interval":       "0s",
		"classification.repair":      true,
	}
}

// LoadConfig loads the configuration from defaults, a TOML file and the
// environment, in that order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./mailtriage.toml", "$HOME/.mailtriage.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// MAILTRIAGE_LLM__API_KEY -> llm.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

const sampleConfig = `# mailtriage configuration

[general]
log_level = "info"
log_format = "pretty" # or "json"

[store]
driver = "sqlite"      # sqlite, postgres or memory
dsn = "mailtriage.db"

[llm]
provider = "openai"    # openai, gemini, claude or ollama
model = "gpt-4o-mini"
api_key = "your-api-key"
temperature = 0.2
max_retries = 3

[prompts]
# path = "prompts.yaml"

[gmail]
credentials_file = "credentials.json"
token_file = "token.json"
query = "is:unread in:inbox"
max_results = 50

[slack]
bot_token = "xoxb-..."
app_token = "xapp-..."
channel_id = "C0123456789"
signing_secret = ""
socket_mode = true

[trello]
# api_key = ""
# token = ""
# board_id = ""

[tools]
summaries_dir = "summaries"

[server]
port = 8888
# jwt_secret = "" # require bearer tokens on /api/v1 (see "mailtriage token")

[queue]
max_workers = 4
fetch_interval = "0s"

[classification]
repair = true
`

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}
	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch config.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if config.Store.DSN == "" {
			fail("store.dsn is required for driver %s", config.Store.Driver)
		}
	default:
		fail("unknown store.driver %q", config.Store.Driver)
	}

	switch config.LLM.Provider {
	case "ollama":
		if config.LLM.Model == "" {
			fail("llm.model is required for ollama")
		}
	case "openai", "gemini", "claude":
		if config.LLM.APIKey == "" {
			fail("llm.api_key is required for %s", config.LLM.Provider)
		}
	default:
		fail("unknown llm.provider %q", config.LLM.Provider)
	}

	if config.Slack.BotToken == "" {
		fail("slack.bot_token is required")
	}
	if config.Slack.ChannelID == "" {
		fail("slack.channel_id is required")
	}
	if config.Slack.SocketMode && config.Slack.AppToken == "" {
		fail("slack.app_token is required for socket mode")
	}
	if !config.Slack.SocketMode && config.Slack.SigningSecret == "" {
		fail("slack.signing_secret is required for the events endpoint")
	}

	if config.Gmail.CredentialsFile != "" && config.Gmail.TokenFile == "" {
		fail("gmail.token_file is required with gmail.credentials_file")
	}

	set := 0
	for _, v := range []string{config.Trello.APIKey, config.Trello.Token, config.Trello.BoardID} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		fail("trello needs api_key, token and board_id together")
	}

	if config.Queue.MaxWorkers <= 0 {
		fail("queue.max_workers must be positive")
	}
	if config.Queue.FetchInterval < 0 {
		fail("queue.fetch_interval must not be negative")
	}

	return errors.Join(errs...)
}
