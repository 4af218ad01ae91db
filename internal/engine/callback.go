package engine

import "github.com/eniac111/plumbapi/internal/types"

// Callback receives one call per task outcome. The executor never calls it
// from two goroutines at once.
type Callback interface {
	OnOk(ev types.TaskEvent)
	OnFailed(ev types.TaskEvent, ignoreErrors bool)
	OnSkipped(ev types.TaskEvent)
	OnUnreachable(ev types.TaskEvent)
	OnNoHostMatched(task string)
}
