// Package engine runs playbooks against an inventory and reports every
// per-host task outcome to a Callback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"

	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/inventory"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/modules"
	"github.com/eniac111/plumbapi/internal/playbook"
	"github.com/eniac111/plumbapi/internal/types"
	"github.com/eniac111/plumbapi/internal/vars"
)

// Password keys the executor understands. Any other entry is ignored.
const (
	PassConn   = "conn_pass"
	PassBecome = "become_pass"
)

type outcomeKind int

const (
	kindOk outcomeKind = iota
	kindFailed
	kindSkipped
	kindUnreachable
)

// Executor runs plays with the linear strategy: every task finishes on all
// active hosts before the next task starts.
type Executor struct {
	log  *logger.Logger
	open connection.Opener
}

// New returns an Executor that opens connections with connection.Open.
func New(log *logger.Logger) *Executor {
	return &Executor{log: log, open: connection.Open}
}

// WithOpener replaces the connection opener.
func (e *Executor) WithOpener(open connection.Opener) *Executor {
	e.open = open
	return e
}

type outcome struct {
	idx    int
	kind   outcomeKind
	ignore bool
	ev     types.TaskEvent
	conn   connection.Connection
}

type hostState struct {
	host types.Host
	conn connection.Connection
}

// run holds the state of one Executor.Run call.
type run struct {
	e     *Executor
	inv   *types.Inventory
	vm    *vars.Manager
	opts  config.RunOptions
	copts connection.Options
	mopts types.ModuleOptions
	cb    Callback
	stats *Stats

	conns map[string]connection.Connection
	dead  map[string]bool
}

// Run executes playbooks in order. A missing playbook file fails before any
// host is contacted with an error matching ErrPlaybookNotFound. A playbook
// that does not parse, or names an unknown module, fails with a
// *playbook.ParseError. Host failures are reported to cb, not returned.
func (e *Executor) Run(ctx context.Context, playbooks []string, inv *types.Inventory, vm *vars.Manager, opts config.RunOptions, passwords map[string]string, cb Callback) (*Stats, error) {
	for _, path := range playbooks {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, PlaybookNotFound(path)
			}
			return nil, fmt.Errorf("failed to stat playbook: %w", err)
		}
	}

	books := make([]*types.Playbook, 0, len(playbooks))
	for _, path := range playbooks {
		pb, err := playbook.Load(path)
		if err != nil {
			return nil, err
		}
		if err := CheckModules(pb); err != nil {
			return nil, err
		}
		books = append(books, pb)
	}

	if inv == nil {
		inv = &types.Inventory{}
	}
	if vm == nil {
		vm = vars.NewManager(inv, nil)
	}
	if opts.Forks < 1 {
		opts.Forks = 1
	}

	r := &run{
		e:     e,
		inv:   inv,
		vm:    vm,
		opts:  opts,
		copts: connection.Options{
			Connection: opts.Connection,
			RemoteUser: opts.RemoteUser,
			KeyPath:    opts.PrivateKeyFile,
			Password:   passwords[PassConn],
			Timeout:    opts.Timeout,
		},
		mopts: types.ModuleOptions{
			Check:        opts.Check,
			Diff:         opts.Diff,
			Become:       opts.Become,
			BecomeMethod: opts.BecomeMethod,
			BecomeUser:   opts.BecomeUser,
			BecomePass:   passwords[PassBecome],
		},
		cb:    cb,
		stats: newStats(),
		conns: map[string]connection.Connection{},
		dead:  map[string]bool{},
	}
	defer r.closeAll()

	for _, pb := range books {
		e.log.Debugf("Running playbook %s", pb.Path)
		for _, play := range pb.Plays {
			r.play(ctx, play)
		}
	}
	return r.stats, nil
}

// CheckModules reports the first task naming an unregistered module as a
// *playbook.ParseError.
func CheckModules(pb *types.Playbook) error {
	for _, play := range pb.Plays {
		for _, task := range play.Tasks {
			if _, ok := modules.Lookup(task.Module); !ok {
				return &playbook.ParseError{
					Path: pb.Path,
					Err:  fmt.Errorf("task %q uses unknown module %q", task.Label(), task.Module),
				}
			}
		}
	}
	return nil
}

func (r *run) play(ctx context.Context, play types.Play) {
	log := r.e.log
	log.Infof("PLAY [%s] hosts=%s", play.Name, play.Hosts)

	var active []hostState
	for _, h := range inventory.Select(r.inv, play.Hosts) {
		if r.dead[h.Name] {
			continue
		}
		active = append(active, hostState{host: h, conn: r.conns[h.Name]})
	}

	if len(active) == 0 {
		log.Warnf("Play [%s]: no hosts matched %q", play.Name, play.Hosts)
		for _, task := range play.Tasks {
			r.cb.OnNoHostMatched(task.Label())
		}
		return
	}

	for _, task := range play.Tasks {
		if len(active) == 0 {
			log.Warnf("Play [%s]: no hosts left", play.Name)
			return
		}
		log.Infof("TASK [%s]", task.Label())
		active = r.task(ctx, play, task, active)
	}
}

// task runs one task on every active host and returns the hosts that stay
// active for the next task.
func (r *run) task(ctx context.Context, play types.Play, task types.TaskDefinition, active []hostState) []hostState {
	jobs := make(chan int)
	results := make(chan outcome)

	workers := min(r.opts.Forks, len(active))
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- r.runOn(ctx, play, task, i, active[i])
			}
		}()
	}
	go func() {
		for i := range active {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	drop := map[int]bool{}
	for out := range results {
		if out.conn != nil {
			active[out.idx].conn = out.conn
			r.conns[out.ev.Host.Name] = out.conn
		}
		if r.deliver(out) {
			drop[out.idx] = true
			r.dead[out.ev.Host.Name] = true
		}
	}

	next := active[:0]
	for i, hs := range active {
		if !drop[i] {
			next = append(next, hs)
		}
	}
	return next
}

// deliver hands out to the callback and reports whether the host leaves the
// run.
func (r *run) deliver(out outcome) bool {
	ev := out.ev
	st := r.stats.host(ev.Host.Name)
	log := r.e.log

	switch out.kind {
	case kindUnreachable:
		st.Unreachable++
		log.Errorf("unreachable: [%s] %v", ev.Host.Name, ev.Result["msg"])
		r.cb.OnUnreachable(ev)
		return true
	case kindSkipped:
		st.Skipped++
		log.Debugf("skipping: [%s]", ev.Host.Name)
		r.cb.OnSkipped(ev)
		return false
	case kindFailed:
		if out.ignore {
			st.Ignored++
			log.Warnf("failed: [%s] %v (ignored)", ev.Host.Name, ev.Result["msg"])
		} else {
			st.Failed++
			log.Errorf("failed: [%s] %v", ev.Host.Name, ev.Result["msg"])
		}
		r.cb.OnFailed(ev, out.ignore)
		return !out.ignore
	default:
		st.Ok++
		if changed, _ := ev.Result["changed"].(bool); changed {
			st.Changed++
			log.Infof("changed: [%s]", ev.Host.Name)
		} else {
			log.Infof("ok: [%s]", ev.Host.Name)
		}
		r.cb.OnOk(ev)
		return false
	}
}

// runOn executes task on one host. It only touches hs and thread-safe
// state, so several calls run concurrently.
func (r *run) runOn(ctx context.Context, play types.Play, task types.TaskDefinition, idx int, hs hostState) outcome {
	out := outcome{idx: idx, ignore: task.IgnoreErrors}
	hv := r.vm.HostVars(hs.host, play.Vars)

	rendered := task
	rendered.Params = vars.RenderParams(task.Params, hv)
	out.ev = types.TaskEvent{Host: hs.host, Task: rendered}

	if task.When != "" {
		ok, err := vars.Eval(task.When, hv)
		if err != nil {
			return r.finish(out, kindFailed, types.Payload{
				"changed": false,
				"failed":  true,
				"msg":     fmt.Sprintf("the conditional check %q failed: %v", task.When, err),
			})
		}
		if !ok {
			return r.finish(out, kindSkipped, types.Payload{
				"changed":     false,
				"skipped":     true,
				"skip_reason": "Conditional result was False",
			})
		}
	}

	conn := hs.conn
	if conn == nil {
		var err error
		conn, err = r.connect(ctx, hs.host)
		if err != nil {
			return r.finish(out, kindUnreachable, types.Payload{
				"changed":     false,
				"unreachable": true,
				"msg":         err.Error(),
			})
		}
		out.conn = conn
	}

	mod, _ := modules.Lookup(task.Module)
	res := mod.Run(ctx, conn, rendered, r.moduleOptions(play, task))
	payload := res.Payload()
	if res.Skipped {
		return r.finish(out, kindSkipped, payload)
	}

	failed := res.Failed
	if task.FailedWhen != "" || task.ChangedWhen != "" {
		scope := maps.Clone(hv)
		maps.Copy(scope, payload)
		if task.FailedWhen != "" {
			v, err := vars.Eval(task.FailedWhen, scope)
			if err != nil {
				payload["msg"] = fmt.Sprintf("the conditional check %q failed: %v", task.FailedWhen, err)
				v = true
			}
			failed = v
			payload["failed"] = v
		}
		if task.ChangedWhen != "" && !failed {
			v, err := vars.Eval(task.ChangedWhen, scope)
			if err != nil {
				payload["msg"] = fmt.Sprintf("the conditional check %q failed: %v", task.ChangedWhen, err)
				payload["failed"] = true
				failed = true
			} else {
				payload["changed"] = v
			}
		}
	}

	if failed {
		return r.finish(out, kindFailed, payload)
	}
	return r.finish(out, kindOk, payload)
}

func (r *run) finish(out outcome, kind outcomeKind, payload types.Payload) outcome {
	out.kind = kind
	out.ev.Result = payload
	if out.ev.Task.Register != "" && kind != kindUnreachable {
		r.vm.Register(out.ev.Host.Name, out.ev.Task.Register, payload)
	}
	return out
}

func (r *run) connect(ctx context.Context, host types.Host) (connection.Connection, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return r.e.open(ctx, host, r.copts, r.e.log)
}

// moduleOptions layers play and task become settings over the run options.
func (r *run) moduleOptions(play types.Play, task types.TaskDefinition) types.ModuleOptions {
	mo := r.mopts
	if play.Become {
		mo.Become = true
	}
	if play.BecomeUser != "" {
		mo.BecomeUser = play.BecomeUser
	}
	if task.Become {
		mo.Become = true
	}
	if task.BecomeUser != "" {
		mo.BecomeUser = task.BecomeUser
	}
	return mo
}

func (r *run) closeAll() {
	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			r.e.log.Debugf("closing connection to %s: %v", name, err)
		}
	}
}
