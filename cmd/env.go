package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mailtriage/internal/config"
)

// CredentialCheck lists which credentials a configuration carries
type CredentialCheck struct {
	Missing []string          // credentials required by the chosen backends
	Present map[string]string // credentials that are set (masked values)
}

// CheckCredentials reports the credentials the configured backends need
func CheckCredentials(cfg *config.Config) *CredentialCheck {
	result := &CredentialCheck{Present: make(map[string]string)}

	check := func(name, value string, required bool) {
		switch {
		case value != "":
			result.Present[name] = maskSecret(value)
		case required:
			result.Missing = append(result.Missing, name)
		}
	}

	check("llm.api_key", cfg.LLM.APIKey, cfg.LLM.Provider != "ollama")
	check("slack.bot_token", cfg.Slack.BotToken, true)
	check("slack.app_token", cfg.Slack.AppToken, cfg.Slack.SocketMode)
	check("slack.signing_secret", cfg.Slack.SigningSecret, !cfg.Slack.SocketMode)
	check("trello.api_key", cfg.Trello.APIKey, false)
	check("trello.token", cfg.Trello.Token, false)
	if cfg.Store.Driver == "postgres" {
		check("store.dsn", cfg.Store.DSN, true)
	}

	sort.Strings(result.Missing)
	return result
}

// PrintCredentialCheck prints the check results
func PrintCredentialCheck(result *CredentialCheck) {
	fmt.Println("=== Credentials ===")

	if len(result.Missing) > 0 {
		fmt.Println("Missing:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
	}

	keys := make([]string, 0, len(result.Present))
	for k := range result.Present {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Println("Configured:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
	}

	if len(result.Missing) == 0 {
		fmt.Println("All required credentials are present")
	}
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
