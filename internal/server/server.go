// Package server exposes the playbook trigger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/eniac111/plumbapi/internal/callback"
	"github.com/eniac111/plumbapi/internal/config"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/runner"
)

// ResultsKey is the single key of a successful run response.
const ResultsKey = "Playbook Results"

const shutdownTimeout = 10 * time.Second

// Trigger starts one run and blocks until it is over.
type Trigger interface {
	Execute(ctx context.Context) (*runner.Result, error)
}

// Server answers GET / with the results of a fresh playbook run.
type Server struct {
	cfg     *config.Config
	trigger Trigger
	log     *logger.Logger
}

// New returns a Server. It holds nothing but cfg and trigger; every request
// builds its own run state.
func New(cfg *config.Config, trigger Trigger, log *logger.Logger) *Server {
	return &Server{cfg: cfg, trigger: trigger, log: log}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRun)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// a client that goes away does not abort the run
	res, err := s.trigger.Execute(context.WithoutCancel(r.Context()))
	if err != nil {
		s.log.Errorf("run failed: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	records := res.Records
	if records == nil {
		records = []callback.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Run-ID", res.ID)
	if err := json.NewEncoder(w).Encode(map[string][]callback.Record{ResultsKey: records}); err != nil {
		s.log.Warnf("failed to write response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
