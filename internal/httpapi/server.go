// Package httpapi implements archflow's control-plane HTTP API
// (run/resume/pause/stop, SSE event streaming, run status,
// and metrics export), grounded on
// internal/controller/publicapi/server.go (Server lifecycle: New,
// Start, Shutdown, Addr, WriteTimeout: 0 to keep SSE connections open)
// and internal/controller/api/events.go (SSE handler shape).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/archflow/archflow/internal/httpapi/authgate"
	"github.com/archflow/archflow/pkg/execid"
	"github.com/archflow/archflow/pkg/flow"
	"github.com/archflow/archflow/pkg/flowctx"
	"github.com/archflow/archflow/pkg/streaming"
)

// WorkflowLookup resolves a workflow id to its runnable Definition,
// satisfied by *pkg/registry.Registry.
type WorkflowLookup interface {
	Definition(id string) (flow.Definition, bool)
}

// FlowEngine is the subset of *pkg/flow.Engine the API drives. Declared
// as an interface so handlers are testable against a stub.
type FlowEngine interface {
	Run(ctx context.Context, flowID string, def flow.Definition, flowCtx *flowctx.Context, exec flow.StepExecutor) (flow.FlowResult, error)
	Resume(ctx context.Context, resumeToken string, userInput any, def flow.Definition, exec flow.StepExecutor) (flow.FlowResult, error)
	Control(flowID string) (*flow.RunControl, bool)
	Pause(flowID string) error
	Stop(flowID string) error
}

// Config configures a Server.
type Config struct {
	Listen string
	// Auth, when non-nil, requires every request to carry a valid
	// bearer token (names RBAC as an external gate point).
	Auth *authgate.Config
}

// Server is archflow's HTTP control plane: it turns HTTP requests into
// FlowEngine calls, and turns the engine's pkg/streaming events into
// SSE responses.
type Server struct {
	cfg Config
	engine FlowEngine
	workflows WorkflowLookup
	exec flow.StepExecutor
	streams *streaming.Registry
	metrics http.Handler
	logger *slog.Logger

	runs *runStore
	// resumeTokens maps an outstanding resumeToken back to the runId
	// that produced it, since pkg/flow.Engine keys suspensions by
	// resumeToken alone.
	resumeTokens sync.Map

	mux *http.ServeMux
	server *http.Server

	mu sync.RWMutex
	ln net.Listener
}

// New constructs a Server. exec is the StepExecutor the engine
// dispatches every step through (built by the caller, typically
// composing pkg/invoker with the interceptor chain); metrics is the
// handler serving GET /api/metrics, usually one of
// pkg/metrics/export's PrometheusExporter.Handler or
// HTTPExporter.Handler depending on the configured backend.
func New(cfg Config, engine FlowEngine, workflows WorkflowLookup, exec flow.StepExecutor, streams *streaming.Registry, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		engine: engine,
		workflows: workflows,
		exec: exec,
		streams: streams,
		metrics: metrics,
		logger: logger,
		runs: newRunStore(),
		mux: http.NewServeMux(),
	}
	s.routes()

	var handler http.Handler = s.mux
	if cfg.Auth != nil {
		handler = authgate.Middleware(*cfg.Auth, handler)
	}
	s.server = &http.Server{
		Handler: handler,
		ReadTimeout: 30 * time.Second,
		WriteTimeout: 0, // SSE streams can run for the lifetime of a run.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/flows/{id}/run", s.handleRun)
	s.mux.HandleFunc("POST /api/flows/{id}/resume", s.handleResume)
	s.mux.HandleFunc("POST /api/flows/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/flows/{id}/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/runs/{runId}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/runs/{runId}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
}

// Handler returns the server's http.Handler, for use in tests with
// httptest.NewServer without going through Start/Shutdown.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on cfg.Listen and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("http api starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.server.SetKeepAlivesEnabled(false)
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http api shutdown error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Addr returns the listener's address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newRunID() (string, error) {
	id, err := execid.NewRoot(execid.KindFlow)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
