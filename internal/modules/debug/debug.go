package debug

import (
	"context"
	"fmt"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/types"
)

type DebugModule struct{}

// Run reports "msg" back without touching the host.
func (DebugModule) Run(_ context.Context, _ connection.Connection, task types.TaskDefinition, _ types.ModuleOptions) types.ModuleResult {
	msg := "Hello world!"
	if v, ok := task.Params["msg"]; ok {
		msg = fmt.Sprint(v)
	}
	return types.ModuleResult{
		TaskName: task.Name,
		Module:   task.Module,
		Msg:      msg,
	}
}
