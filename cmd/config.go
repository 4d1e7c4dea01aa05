package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/daikw/speechstream/internal/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage speechstream configuration",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective configuration with secrets masked",
				Action: handleConfigShow,
			},
			{
				Name:   "validate",
				Usage:  "Check the configuration for errors",
				Action: handleConfigValidate,
			},
			{
				Name:   "init",
				Usage:  "Create an example configuration file",
				Action: handleConfigInit,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "global",
						Aliases: []string{"g"},
						Usage:   "Create ~/" + config.DirName + "/" + config.FileName,
					},
				},
			},
		},
	}
}

func handleConfigShow(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	output, err := json.MarshalIndent(cfg.MaskSecrets(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}

	fmt.Println("Current configuration (secrets masked):")
	fmt.Println(string(output))
	return nil
}

func handleConfigValidate(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	problems := cfg.Validate()
	if len(problems) == 0 {
		fmt.Println("✅ Configuration is valid.")
		return nil
	}

	fmt.Println("❌ Configuration has errors:")
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	return fmt.Errorf("configuration validation failed")
}

func handleConfigInit(ctx context.Context, c *cli.Command) error {
	configPath := filepath.Join(config.DirName, config.FileName)
	if c.Bool("global") {
		configPath = config.NewLoader().GlobalPath()
	}

	if err := writeExampleConfig(configPath); err != nil {
		return err
	}

	fmt.Printf("✅ Created configuration: %s\n", configPath)
	fmt.Println("\nEdit the file to set your region, voice and providers.")
	fmt.Println("Use ${ENV_VAR} syntax for sensitive values like keys.")
	return nil
}

// writeExampleConfig refuses to overwrite and writes with owner-only
// permissions.
func writeExampleConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.GenerateExampleConfig()), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
