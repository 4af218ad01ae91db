package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/playbook"
	"github.com/eniac111/plumbapi/internal/types"
	"github.com/eniac111/plumbapi/internal/vars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind   string
	host   string
	task   string
	ignore bool
	result types.Payload
}

// recorder keeps every callback invocation in order.
type recorder struct {
	events []event
}

func (r *recorder) OnOk(ev types.TaskEvent) {
	r.events = append(r.events, event{kind: "ok", host: ev.Host.Name, task: ev.Task.Label(), result: ev.Result})
}

func (r *recorder) OnFailed(ev types.TaskEvent, ignoreErrors bool) {
	r.events = append(r.events, event{kind: "failed", host: ev.Host.Name, task: ev.Task.Label(), ignore: ignoreErrors, result: ev.Result})
}

func (r *recorder) OnSkipped(ev types.TaskEvent) {
	r.events = append(r.events, event{kind: "skipped", host: ev.Host.Name, task: ev.Task.Label(), result: ev.Result})
}

func (r *recorder) OnUnreachable(ev types.TaskEvent) {
	r.events = append(r.events, event{kind: "unreachable", host: ev.Host.Name, task: ev.Task.Label(), result: ev.Result})
}

func (r *recorder) OnNoHostMatched(task string) {
	r.events = append(r.events, event{kind: "nohost", task: task})
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.host + ":" + e.kind
	}
	return out
}

func writePlaybook(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbook.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func localInventory(names ...string) *types.Inventory {
	inv := &types.Inventory{}
	for _, n := range names {
		inv.Hosts = append(inv.Hosts, types.Host{Name: n, Connection: "local"})
	}
	return inv
}

func runOpts() config.RunOptions {
	return config.RunOptions{Connection: "local", Forks: 1}
}

func TestRunMissingPlaybook(t *testing.T) {
	rec := &recorder{}
	_, err := New(logger.Discard()).Run(context.Background(),
		[]string{filepath.Join(t.TempDir(), "nope.yml")}, localInventory("a"), nil, runOpts(), nil, rec)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlaybookNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Empty(t, rec.events)
}

func TestRunUnknownModule(t *testing.T) {
	path := writePlaybook(t, "tasks:\n  - module: teleport\n")
	rec := &recorder{}
	_, err := New(logger.Discard()).Run(context.Background(), []string{path}, localInventory("a"), nil, runOpts(), nil, rec)

	var pe *playbook.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "teleport")
	assert.Empty(t, rec.events)
}

func TestRunFailedHostLeavesPlay(t *testing.T) {
	path := writePlaybook(t, `
- hosts: all
  tasks:
    - name: is a
      module: shell
      params:
        cmd: "test {{ inventory_hostname }} = a"
      changed_when: "false"
    - name: after
      module: debug
      params:
        msg: "still here"
`)
	rec := &recorder{}
	stats, err := New(logger.Discard()).Run(context.Background(), []string{path}, localInventory("a", "b"), nil, runOpts(), nil, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"a:ok", "b:failed", "a:ok"}, rec.kinds())
	assert.Equal(t, false, rec.events[0].result["changed"])
	assert.False(t, rec.events[1].ignore)
	assert.Equal(t, 1, rec.events[1].result["rc"])
	assert.Equal(t, "still here", rec.events[2].result["msg"])

	assert.Equal(t, 2, stats.Hosts["a"].Ok)
	assert.Equal(t, 1, stats.Hosts["b"].Failed)
	assert.True(t, stats.Failed())
	assert.Len(t, stats.Recap(), 2)
}

func TestRunIgnoreErrorsKeepsHost(t *testing.T) {
	path := writePlaybook(t, `
tasks:
  - module: shell
    params:
      cmd: "exit 3"
    ignore_errors: true
  - module: debug
`)
	rec := &recorder{}
	stats, err := New(logger.Discard()).Run(context.Background(), []string{path}, localInventory("a"), nil, runOpts(), nil, rec)
	require.NoError(t, err)

	require.Equal(t, []string{"a:failed", "a:ok"}, rec.kinds())
	assert.True(t, rec.events[0].ignore)
	assert.Equal(t, 1, stats.Hosts["a"].Ignored)
	assert.False(t, stats.Failed())
}

func TestRunWhenAndRegister(t *testing.T) {
	path := writePlaybook(t, `
tasks:
  - name: greet
    module: shell
    params:
      cmd: "echo hi-{{ inventory_hostname }}"
    register: greeting
  - name: only b
    module: debug
    params:
      msg: "{{ greeting.stdout }}"
    when: "inventory_hostname == 'b' and greeting.rc == 0"
`)
	rec := &recorder{}
	_, err := New(logger.Discard()).Run(context.Background(), []string{path}, localInventory("a", "b"), nil, runOpts(), nil, rec)
	require.NoError(t, err)

	require.Equal(t, []string{"a:ok", "b:ok", "a:skipped", "b:ok"}, rec.kinds())
	assert.Equal(t, true, rec.events[0].result["changed"])
	assert.Equal(t, "Conditional result was False", rec.events[2].result["skip_reason"])
	assert.Equal(t, "hi-b", rec.events[3].result["msg"])
}

func TestRunFailedWhen(t *testing.T) {
	path := writePlaybook(t, `
tasks:
  - module: shell
    params:
      cmd: "echo boom"
    failed_when: "stdout == 'boom'"
`)
	rec := &recorder{}
	_, err := New(logger.Discard()).Run(context.Background(), []string{path}, localInventory("a"), nil, runOpts(), nil, rec)
	require.NoError(t, err)

	require.Equal(t, []string{"a:failed"}, rec.kinds())
	assert.Equal(t, true, rec.events[0].result["failed"])
}

func TestRunCheckModeSkipsShell(t *testing.T) {
	path := writePlaybook(t, "tasks:\n  - module: shell\n    params:\n      cmd: \"touch /should-not-exist\"\n")
	opts := runOpts()
	opts.Check = true

	rec := &recorder{}
	_, err := New(logger.Discard()).Run(context.Background(), []string{path}, localInventory("a"), nil, opts, nil, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:skipped"}, rec.kinds())
}

func TestRunNoHostMatched(t *testing.T) {
	path := writePlaybook(t, `
hosts: web
tasks:
  - name: first
    module: ping
  - module: debug
`)
	rec := &recorder{}
	_, err := New(logger.Discard()).Run(context.Background(), []string{path}, &types.Inventory{}, nil, runOpts(), nil, rec)
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, event{kind: "nohost", task: "first"}, rec.events[0])
	assert.Equal(t, event{kind: "nohost", task: "debug"}, rec.events[1])
}

func TestRunUnreachable(t *testing.T) {
	path := writePlaybook(t, `
tasks:
  - module: ping
  - module: debug
`)
	opened := map[string]int{}
	open := func(_ context.Context, host types.Host, _ connection.Options, _ *logger.Logger) (connection.Connection, error) {
		opened[host.Name]++
		if host.Name == "down" {
			return nil, errors.New("dial tcp: connection refused")
		}
		return connection.Local(), nil
	}

	rec := &recorder{}
	stats, err := New(logger.Discard()).WithOpener(open).Run(context.Background(),
		[]string{path}, localInventory("up", "down"), nil, runOpts(), nil, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"up:ok", "down:unreachable", "up:ok"}, rec.kinds())
	assert.Equal(t, "dial tcp: connection refused", rec.events[1].result["msg"])
	assert.Equal(t, 1, stats.Hosts["down"].Unreachable)
	assert.Equal(t, map[string]int{"up": 1, "down": 1}, opened, "connections are opened once per host")
}

func TestRunExtraVarsAndForks(t *testing.T) {
	path := writePlaybook(t, `
tasks:
  - module: debug
    params:
      msg: "{{ greeting }} {{ inventory_hostname }}"
`)
	inv := localInventory("h1", "h2", "h3", "h4")
	vm := vars.NewManager(inv, map[string]any{"greeting": "hello"})
	opts := runOpts()
	opts.Forks = 3

	rec := &recorder{}
	stats, err := New(logger.Discard()).Run(context.Background(), []string{path}, inv, vm, opts, nil, rec)
	require.NoError(t, err)

	require.Len(t, rec.events, 4)
	msgs := map[string]any{}
	for _, e := range rec.events {
		assert.Equal(t, "ok", e.kind)
		msgs[e.host] = e.result["msg"]
	}
	assert.Equal(t, map[string]any{
		"h1": "hello h1",
		"h2": "hello h2",
		"h3": "hello h3",
		"h4": "hello h4",
	}, msgs)
	assert.Len(t, stats.Hosts, 4)
}
