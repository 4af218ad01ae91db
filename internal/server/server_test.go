package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eniac111/plumbapi/internal/callback"
	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/engine"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/runner"
	"github.com/eniac111/plumbapi/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	res   *runner.Result
	err   error
	calls int
	ctx   context.Context
}

func (f *fakeTrigger) Execute(ctx context.Context) (*runner.Result, error) {
	f.calls++
	f.ctx = ctx
	return f.res, f.err
}

func TestRunReturnsResults(t *testing.T) {
	trigger := &fakeTrigger{res: &runner.Result{
		ID: "run-1",
		Records: []callback.Record{
			{Host: "a", Action: "shell", Status: callback.StatusOK, Output: types.Payload{"changed": false}},
			{Host: "b", Action: "shell", Status: callback.StatusUnreachable},
		},
	}}
	srv := New(config.DefaultConfig(), trigger, logger.Discard())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "run-1", rec.Header().Get("X-Run-ID"))
	assert.JSONEq(t, `{"Playbook Results": [
		{"host": "a", "action": "shell", "status": "ok", "output": {"changed": false}},
		{"host": "b", "action": "shell", "status": "unreachable", "output": ""}
	]}`, rec.Body.String())
	assert.Equal(t, 1, trigger.calls)
}

func TestRunEmptyResultsIsList(t *testing.T) {
	srv := New(config.DefaultConfig(), &fakeTrigger{res: &runner.Result{ID: "x"}}, logger.Discard())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"Playbook Results": []}`, rec.Body.String())
}

func TestRunErrorIsGeneric500(t *testing.T) {
	for _, err := range []error{
		engine.PlaybookNotFound("myplaybook.yml"),
		&engine.AutomationError{Err: errors.New("bad yaml")},
		errors.New("inventory exploded"),
	} {
		srv := New(config.DefaultConfig(), &fakeTrigger{err: err}, logger.Discard())

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Internal Server Error\n", rec.Body.String())
	}
}

func TestRunIgnoresClientCancel(t *testing.T) {
	trigger := &fakeTrigger{res: &runner.Result{ID: "x"}}
	srv := New(config.DefaultConfig(), trigger, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, trigger.ctx)
	assert.NoError(t, trigger.ctx.Err())
}

func TestRoutes(t *testing.T) {
	trigger := &fakeTrigger{res: &runner.Result{ID: "x"}}
	srv := New(config.DefaultConfig(), trigger, logger.Discard())
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 0, trigger.calls)
}

// End to end through a real runner and listener.
func TestServeWithRunner(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Inventory = "a,b,"
	cfg.Playbook = filepath.Join(dir, "playbook.yml")
	cfg.Options.Forks = 1
	require.NoError(t, os.WriteFile(cfg.Playbook, []byte(`
tasks:
  - module: shell
    params:
      cmd: "test {{ inventory_hostname }} = a"
    changed_when: "false"
`), 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(cfg, runner.New(cfg, logger.Discard()), logger.Discard())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	results := body[ResultsKey]
	require.Len(t, results, 2)
	assert.Equal(t, "ok", results[0]["status"])
	assert.Equal(t, "failed", results[1]["status"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
