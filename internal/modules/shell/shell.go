package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/types"
)

type ShellModule struct{}

func (sm ShellModule) Run(ctx context.Context, conn connection.Connection, task types.TaskDefinition, opts types.ModuleOptions) types.ModuleResult {
	res := types.ModuleResult{
		TaskName: task.Name,
		Module:   task.Module,
	}

	cmdString, ok := task.Params["cmd"].(string)
	if !ok || cmdString == "" {
		res.Failed = true
		res.Msg = "Missing 'cmd' parameter for shell module"
		return res
	}

	return Execute(ctx, conn, res, cmdString, task.Params, opts)
}

// Execute runs cmdString the way shell and command share: creates/removes
// guards, chdir, check mode, become, and result shaping.
func Execute(ctx context.Context, conn connection.Connection, res types.ModuleResult, cmdString string, params map[string]any, opts types.ModuleOptions) types.ModuleResult {
	if skip, msg, err := guarded(conn, params); err != nil {
		res.Failed = true
		res.Msg = err.Error()
		return res
	} else if skip {
		res.Msg = msg
		return res
	}

	if opts.Check {
		res.Skipped = true
		res.Msg = "skipped, running in check mode"
		return res
	}

	if dir, _ := params["chdir"].(string); dir != "" {
		cmdString = "cd " + Quote(dir) + " && " + cmdString
	}
	cmdString = Wrap(cmdString, opts)

	out, err := conn.Exec(ctx, cmdString)
	res.RC = out.RC
	res.Stdout = strings.TrimRight(out.Stdout, "\n")
	res.Stderr = strings.TrimRight(out.Stderr, "\n")
	if err != nil {
		res.Failed = true
		res.Msg = "Command failed: " + err.Error()
		return res
	}
	if out.RC != 0 {
		res.Failed = true
		res.Msg = fmt.Sprintf("Command failed: non-zero return code %d", out.RC)
		return res
	}

	// a command that ran is assumed to have changed something
	res.Changed = true
	res.Msg = "Command output: " + res.Stdout
	return res
}

// guarded reports whether creates/removes make the command unnecessary.
func guarded(conn connection.Connection, params map[string]any) (bool, string, error) {
	creates, _ := params["creates"].(string)
	removes, _ := params["removes"].(string)
	if creates == "" && removes == "" {
		return false, "", nil
	}
	fsys, err := conn.FS()
	if err != nil {
		return false, "", err
	}
	if creates != "" {
		if _, err := fsys.Lstat(creates); err == nil {
			return true, fmt.Sprintf("skipped, since %s exists", creates), nil
		}
	}
	if removes != "" {
		if _, err := fsys.Lstat(removes); err != nil {
			return true, fmt.Sprintf("skipped, since %s does not exist", removes), nil
		}
	}
	return false, "", nil
}

// Quote single-quotes s for sh.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Wrap applies privilege escalation to cmd when opts ask for it.
func Wrap(cmd string, opts types.ModuleOptions) string {
	if !opts.Become {
		return cmd
	}
	user := opts.BecomeUser
	if user == "" {
		user = "root"
	}
	switch opts.BecomeMethod {
	case "su":
		return "su " + Quote(user) + " -c " + Quote(cmd)
	default:
		if opts.BecomePass != "" {
			return "printf '%s\\n' " + Quote(opts.BecomePass) + " | sudo -S -p '' -H -u " + Quote(user) + " sh -c " + Quote(cmd)
		}
		return "sudo -n -H -u " + Quote(user) + " sh -c " + Quote(cmd)
	}
}
