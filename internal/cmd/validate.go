package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/eniac111/plumbapi/internal/engine"
	"github.com/eniac111/plumbapi/internal/inventory"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/playbook"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse the playbook without running it",
		Long: `Parse the playbook, check that every task names a known module and
list the tasks of each play with a stable task ID.

With --inventory the hosts each play would target are listed too.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("playbook"); v != "" {
				cfg.Playbook = v
			}
			inv, _ := cmd.Flags().GetString("inventory")
			return validatePlaybook(cmd.Context(), cfg.Playbook, inv, cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr(), cfg))
		},
	}

	cmd.Flags().StringP("playbook", "p", "", "playbook to validate")
	cmd.Flags().StringP("inventory", "i", "", "also resolve play hosts against this inventory")

	return cmd
}

func validatePlaybook(ctx context.Context, path, inventorySource string, out io.Writer, log *logger.Logger) error {
	pb, err := playbook.Load(path)
	if err != nil {
		return err
	}
	if err := engine.CheckModules(pb); err != nil {
		return err
	}

	var matcher func(pattern string) []string
	if inventorySource != "" {
		inv, err := inventory.Load(ctx, inventorySource, log)
		if err != nil {
			return err
		}
		matcher = func(pattern string) []string {
			var names []string
			for _, h := range inventory.Select(inv, pattern) {
				names = append(names, h.Name)
			}
			return names
		}
	}

	tasks := 0
	for i, play := range pb.Plays {
		fmt.Fprintf(out, "play #%d (%s): hosts=%s\n", i+1, play.Name, play.Hosts)
		if matcher != nil {
			hosts := matcher(play.Hosts)
			if len(hosts) == 0 {
				fmt.Fprintln(out, "  no hosts matched")
			} else {
				fmt.Fprintf(out, "  hosts: %s\n", strings.Join(hosts, ", "))
			}
		}
		for j, t := range play.Tasks {
			fmt.Fprintf(out, "  %s\t%s\n", taskID(j, t.Module, t.Name), t.Label())
			tasks++
		}
	}
	fmt.Fprintf(out, "Playbook is valid: %d play(s), %d task(s)\n", len(pb.Plays), tasks)
	return nil
}

// taskID names a task by position, module and name, e.g. "0-shell-host-check".
func taskID(i int, module, name string) string {
	return slugify(fmt.Sprintf("%d-%s-%s", i, module, name))
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			prevDash = false
		} else if !prevDash {
			b.WriteRune('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
