// Package command runs a program without shell processing of its arguments.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/modules/shell"
	"github.com/eniac111/plumbapi/internal/types"
)

type CommandModule struct{}

// Run takes either "argv" (a list) or "cmd" (split on whitespace). Every
// argument is quoted, so pipes and redirects are passed through literally.
func (CommandModule) Run(ctx context.Context, conn connection.Connection, task types.TaskDefinition, opts types.ModuleOptions) types.ModuleResult {
	res := types.ModuleResult{
		TaskName: task.Name,
		Module:   task.Module,
	}

	var argv []string
	switch v := task.Params["argv"].(type) {
	case []any:
		for _, a := range v {
			argv = append(argv, fmt.Sprint(a))
		}
	case []string:
		argv = v
	}
	if len(argv) == 0 {
		if cmd, _ := task.Params["cmd"].(string); cmd != "" {
			argv = strings.Fields(cmd)
		}
	}
	if len(argv) == 0 {
		res.Failed = true
		res.Msg = "Missing 'cmd' or 'argv' parameter for command module"
		return res
	}

	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shell.Quote(a)
	}
	return shell.Execute(ctx, conn, res, strings.Join(quoted, " "), task.Params, opts)
}
