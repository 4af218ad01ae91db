// Package callback turns the engine's per-task event stream into an ordered
// list of result records that can be read once the run is over.
package callback

import (
	"encoding/json"

	"github.com/eniac111/plumbapi/internal/types"
)

// NoHostMatched is the host recorded for tasks whose play matched no host.
const NoHostMatched = "no host matched"

// Status classifies one task outcome.
type Status string

const (
	StatusOK          Status = "ok"
	StatusChanged     Status = "changed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusUnreachable Status = "unreachable"
)

// Record is the normalized outcome of one event.
type Record struct {
	Host   string        `json:"host"`
	Action string        `json:"action"`
	Status Status        `json:"status"`
	Output types.Payload `json:"output"`
}

// MarshalJSON writes an empty output as "" rather than null.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	if r.Output == nil {
		return json.Marshal(struct {
			plain
			Output string `json:"output"`
		}{plain: plain(r)})
	}
	return json.Marshal(plain(r))
}

// Aggregator records every event of one run in arrival order. It holds no
// lock: the engine delivers events one at a time, and a fresh Aggregator is
// created for every run.
type Aggregator struct {
	results []Record
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// OnOk records changed when the payload says so, ok otherwise.
func (a *Aggregator) OnOk(ev types.TaskEvent) {
	status := StatusOK
	if changed, _ := ev.Result["changed"].(bool); changed {
		status = StatusChanged
	}
	a.add(ev.Host.Name, ev.Task.Module, status, ev.Result)
}

// OnFailed records failed. ignoreErrors only steers the engine and is not
// part of the record.
func (a *Aggregator) OnFailed(ev types.TaskEvent, ignoreErrors bool) {
	a.add(ev.Host.Name, ev.Task.Module, StatusFailed, ev.Result)
}

// OnSkipped records skipped; the skip reason is dropped.
func (a *Aggregator) OnSkipped(ev types.TaskEvent) {
	a.add(ev.Host.Name, ev.Task.Module, StatusSkipped, nil)
}

// OnUnreachable records unreachable; the connection error is dropped.
func (a *Aggregator) OnUnreachable(ev types.TaskEvent) {
	a.add(ev.Host.Name, ev.Task.Module, StatusUnreachable, nil)
}

// OnNoHostMatched records the sentinel entry for task.
func (a *Aggregator) OnNoHostMatched(task string) {
	a.add(NoHostMatched, task, StatusSkipped, nil)
}

func (a *Aggregator) add(host, action string, status Status, output types.Payload) {
	a.results = append(a.results, Record{Host: host, Action: action, Status: status, Output: output})
}

// Results returns a copy of the records in arrival order.
func (a *Aggregator) Results() []Record {
	out := make([]Record, len(a.results))
	copy(out, a.results)
	return out
}

// Len is the number of recorded events.
func (a *Aggregator) Len() int {
	return len(a.results)
}
