package cmd

import (
	"os/signal"
	"syscall"

	"github.com/eniac111/plumbapi/internal/runner"
	"github.com/eniac111/plumbapi/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve subcommand
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the playbook trigger over HTTP",
		Long: `Start the HTTP server. Every GET / runs the configured playbook once
and answers with {"Playbook Results": [...]}. GET /healthz answers ok.

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Listen = listen
			}

			log := newLogger(cmd.ErrOrStderr(), cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg, runner.New(cfg, log), log)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().String("listen", "", "override the listen address")

	return cmd
}
