package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mailtriage/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "mailtriage.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "check",
				Usage:  "Show which credentials are configured",
				Action: runConfigCheck,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	result := CheckCredentials(cfg)
	PrintCredentialCheck(result)
	if len(result.Missing) > 0 {
		return fmt.Errorf("%d required credentials missing", len(result.Missing))
	}
	return nil
}

// loadConfig applies the --env-file flag, then loads the configuration
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("env-file"); path != "" {
		if err := LoadEnvFile(path); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
