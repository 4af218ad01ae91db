package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/eniac111/plumbapi/internal/callback"
	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/runner"
	"github.com/eniac111/plumbapi/internal/server"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run subcommand
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the playbook once and print the results",
		Long: `Run the configured playbook once, exactly as a GET / would, and print
the JSON response body to stdout. Logs go to stderr.

Flags override the matching configuration values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			log := newLogger(cmd.ErrOrStderr(), cfg)
			res, err := runner.New(cfg, log).Execute(cmd.Context())
			if err != nil {
				return err
			}
			return writeResults(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringP("playbook", "p", "", "playbook to run")
	cmd.Flags().StringP("inventory", "i", "", "inventory file, host list or ec2:// source")
	cmd.Flags().Bool("check", false, "do not make any changes")
	cmd.Flags().Bool("diff", false, "show file differences")
	cmd.Flags().IntP("forks", "f", 0, "number of hosts to run a task on in parallel")

	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if v, _ := flags.GetString("playbook"); v != "" {
		cfg.Playbook = v
	}
	if v, _ := flags.GetString("inventory"); v != "" {
		cfg.Inventory = v
	}
	if flags.Changed("check") {
		cfg.Options.Check, _ = flags.GetBool("check")
	}
	if flags.Changed("diff") {
		cfg.Options.Diff, _ = flags.GetBool("diff")
	}
	if flags.Changed("forks") {
		cfg.Options.Forks, _ = flags.GetInt("forks")
	}
	return cfg.Validate()
}

func writeResults(w io.Writer, res *runner.Result) error {
	records := res.Records
	if records == nil {
		records = []callback.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{server.ResultsKey: records}); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}
