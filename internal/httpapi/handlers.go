package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/archflow/archflow/pkg/flow"
	"github.com/archflow/archflow/pkg/flowctx"
)

type runRequest struct {
	Input any `json:"input"`
	Params any `json:"params"`
}

type runResponse struct {
	RunID string `json:"runId"`
	Status string `json:"status"`
	Output any `json:"output,omitempty"`
}

type resumeRequest struct {
	ResumeToken string `json:"resumeToken"`
	UserData any `json:"userData"`
}

type statusResponse struct {
	Status string `json:"status"`
	CompletedSteps []string `json:"completedSteps"`
	FailedSteps []string `json:"failedSteps"`
}

// handleRun starts a run asynchronously and returns immediately with
// status "running"; callers observe progress via GET
// /api/runs/{runId}/events or poll GET /api/runs/{runId}/status.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	def, ok := s.workflows.Definition(workflowID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown workflow %q", workflowID))
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	runID, err := newRunID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flowCtx := flowctx.New(runID)
	flowCtx.SetInput(req.Input)
	flowCtx.SetParams(req.Params)

	if s.streams != nil {
		s.streams.CreateEmitter(runID)
	}

	rec := s.runs.create(runID, workflowID)
	s.startRun(runID, def, flowCtx, rec)

	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID, Status: "running"})
}

// startRun launches the engine run in the background and keeps rec in
// sync with the engine's RunControl while it is in flight.
func (s *Server) startRun(runID string, def flow.Definition, flowCtx *flowctx.Context, rec *runRecord) {
	go func() {
		ctx := context.Background()
		done := make(chan struct{})
		go s.pollProgress(runID, rec, done)

		result, err := s.engine.Run(ctx, runID, def, flowCtx, s.exec)
		close(done)
		if err != nil && result.Status == "" {
			result.Status = flow.FlowFailed
			result.Errors = append(result.Errors, flow.ExecutionError{Err: err})
		}
		rec.applyResult(result)
		if result.ResumeToken != "" {
			s.resumeTokens.Store(result.ResumeToken, runID)
		}
		if s.streams != nil {
			if em, ok := s.streams.Lookup(runID); ok {
				em.Complete()
			}
		}
	}()
}

// pollProgress mirrors the engine's live RunControl into rec until
// done fires, so GET /status reflects completedSteps/failedSteps for
// a still-running flow.
func (s *Server) pollProgress(runID string, rec *runRecord, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if rc, ok := s.engine.Control(runID); ok {
				rec.trackProgress(rc)
			}
		}
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	def, ok := s.workflows.Definition(workflowID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown workflow %q", workflowID))
		return
	}

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ResumeToken == "" {
		writeError(w, http.StatusBadRequest, "resumeToken is required")
		return
	}

	runIDVal, _ := s.resumeTokens.Load(req.ResumeToken)
	runID, _ := runIDVal.(string)
	var rec *runRecord
	if runID != "" {
		rec, _ = s.runs.get(runID)
	}

	go func() {
		ctx := context.Background()
		var done chan struct{}
		if rec != nil {
			done = make(chan struct{})
			go s.pollProgress(runID, rec, done)
		}
		result, err := s.engine.Resume(ctx, req.ResumeToken, req.UserData, def, s.exec)
		if done != nil {
			close(done)
		}
		if rec != nil {
			if err != nil && result.Status == "" {
				result.Status = flow.FlowFailed
				result.Errors = append(result.Errors, flow.ExecutionError{Err: err})
			}
			rec.applyResult(result)
			if result.ResumeToken != "" {
				s.resumeTokens.Store(result.ResumeToken, runID)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resuming"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if err := s.engine.Pause(workflowID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if err := s.engine.Stop(workflowID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	rec, ok := s.runs.get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown run %q", runID))
		return
	}
	writeJSON(w, http.StatusOK, rec.snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics export not configured")
		return
	}
	s.metrics.ServeHTTP(w, r)
}
