package cmd

import (
	"fmt"
	"io"

	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

const defaultConfigPath = "plumbapi.yaml"

// NewRootCommand creates and returns the root cobra command for plumbapi
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plumbapi",
		Short: "Run a playbook over HTTP and return per-host results",
		Long: `plumbapi runs a fixed playbook against an inventory every time its
HTTP endpoint is called and answers with one result per host and task.

The playbook, inventory and connection options come from a YAML
configuration file; a missing file means built-in defaults.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the configuration file")
	cmd.PersistentFlags().String("log-level", "", "override log level (trace, debug, info, warn, error)")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())

	return cmd
}

// loadConfig reads --config and applies the flag overrides shared by every
// subcommand.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *logger.Logger {
	return logger.New(w, cfg.LogLevel)
}
