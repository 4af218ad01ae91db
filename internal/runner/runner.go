// Package runner assembles and executes one playbook run per trigger.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/eniac111/plumbapi/internal/callback"
	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/engine"
	"github.com/eniac111/plumbapi/internal/inventory"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/playbook"
	"github.com/eniac111/plumbapi/internal/vars"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const lockRetryDelay = 250 * time.Millisecond

// Result is the outcome of one run.
type Result struct {
	ID      string
	Records []callback.Record
	Stats   *engine.Stats
}

// Runner triggers playbook runs from a fixed configuration. It keeps no
// state between runs, so one Runner may serve concurrent triggers.
type Runner struct {
	cfg  *config.Config
	log  *logger.Logger
	open connection.Opener
}

// New returns a Runner for cfg.
func New(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{cfg: cfg, log: log, open: connection.Open}
}

// WithOpener replaces how hosts are connected to.
func (r *Runner) WithOpener(open connection.Opener) *Runner {
	r.open = open
	return r
}

// Run executes the configured playbook once and returns its records.
func (r *Runner) Run(ctx context.Context) ([]callback.Record, error) {
	res, err := r.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Execute is Run with the run ID and recap attached.
//
// A missing playbook fails with an error matching engine.ErrPlaybookNotFound
// before the inventory is read. A playbook that does not parse fails with an
// *engine.AutomationError.
func (r *Runner) Execute(ctx context.Context) (*Result, error) {
	id := uuid.NewString()
	log := r.log.With("run " + id[:8])

	if _, err := os.Stat(r.cfg.Playbook); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.PlaybookNotFound(r.cfg.Playbook)
		}
		return nil, fmt.Errorf("failed to stat playbook: %w", err)
	}

	if r.cfg.RunLock != "" {
		unlock, err := acquire(ctx, r.cfg.RunLock, log)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	inv, err := inventory.Load(ctx, r.cfg.Inventory, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	vm := vars.NewManager(inv, r.cfg.ExtraVars)

	agg := callback.New()
	start := time.Now()
	log.Infof("Starting run of %s against %s", r.cfg.Playbook, r.cfg.Inventory)

	stats, err := engine.New(log).WithOpener(r.open).Run(ctx,
		[]string{r.cfg.Playbook}, inv, vm, r.cfg.Options, r.cfg.Passwords, agg)
	if err != nil {
		var pe *playbook.ParseError
		if errors.As(err, &pe) {
			return nil, &engine.AutomationError{Err: err}
		}
		return nil, err
	}

	for _, line := range stats.Recap() {
		log.Infof("%s", line)
	}
	log.Infof("Run finished in %s with %d results", time.Since(start).Round(time.Millisecond), agg.Len())

	return &Result{ID: id, Records: agg.Results(), Stats: stats}, nil
}

func acquire(ctx context.Context, path string, log *logger.Logger) (func(), error) {
	lock := flock.New(path)
	log.Debugf("Waiting for run lock %s", path)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to acquire run lock %s", path)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			log.Warnf("failed to release run lock: %v", err)
		}
	}, nil
}
