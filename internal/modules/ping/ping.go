package ping

import (
	"context"
	"strings"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/modules/shell"
	"github.com/eniac111/plumbapi/internal/types"
)

type PingModule struct{}

// Run round-trips "data" (default "pong") through the host. data=crash
// makes the task fail, which is handy for exercising failure handling.
func (PingModule) Run(ctx context.Context, conn connection.Connection, task types.TaskDefinition, _ types.ModuleOptions) types.ModuleResult {
	res := types.ModuleResult{
		TaskName: task.Name,
		Module:   task.Module,
	}

	data, _ := task.Params["data"].(string)
	if data == "" {
		data = "pong"
	}
	if data == "crash" {
		res.Failed = true
		res.Msg = "boom"
		return res
	}

	out, err := conn.Exec(ctx, "echo "+shell.Quote(data))
	if err != nil {
		res.Failed = true
		res.Msg = err.Error()
		return res
	}
	if out.RC != 0 {
		res.Failed = true
		res.Msg = strings.TrimSpace(out.Stderr)
		return res
	}
	res.Data = map[string]any{"ping": strings.TrimRight(out.Stdout, "\n")}
	return res
}
