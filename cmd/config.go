package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"auto-backup/internal/backup"
	"auto-backup/internal/display"
	"auto-backup/internal/logging"

	"github.com/spf13/cobra"
)

var (
	configInitPath  string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented configuration file with the default values",
	Long: `Write a commented configuration file with the default values.

Examples:
  # Create ./auto-backup.yaml
  auto-backup config init

  # Print the template instead
  auto-backup config init --output -`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitPath, "output", "o", "auto-backup.yaml", "file to write, or - for stdout")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	data := backup.GenerateDefaultConfigYAML()
	if configInitPath == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if _, err := os.Stat(configInitPath); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configInitPath)
	}
	if err := os.MkdirAll(filepath.Dir(configInitPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configInitPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	newPrinter().Success("Wrote %s", configInitPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return newPrinter().Document(display.FormatYAML, redactConfig(cfg))
}

// redactConfig returns a copy of cfg safe to print
func redactConfig(cfg *backup.Config) *backup.Config {
	out := *cfg
	if cfg.Notifications.Webhook.URL != "" {
		out.Notifications.Webhook.URL = logging.RedactURL(cfg.Notifications.Webhook.URL)
	}
	if len(cfg.Notifications.Webhook.Headers) > 0 {
		out.Notifications.Webhook.Headers = make(map[string]string, len(cfg.Notifications.Webhook.Headers))
		for k := range cfg.Notifications.Webhook.Headers {
			out.Notifications.Webhook.Headers[k] = "***"
		}
	}
	return &out
}
