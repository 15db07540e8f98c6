package httpapi

import (
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/flow"
)

// runRecord is the server's own bookkeeping for one run, since
// pkg/flow.Engine only keeps a RunControl for a flow while Run is
// in-flight (Engine.Run deletes the entry from its internal map via
// defer once it returns). The server needs to answer status queries
// after completion, suspension, or a stop, so it keeps the terminal
// FlowResult here once the run's goroutine finishes.
type runRecord struct {
	mu sync.RWMutex
	workflowID string
	status flow.FlowStatus
	completed []string
	failed []string
	output any
	errors []flow.ExecutionError
	resumeToken string
	startedAt time.Time
	finishedAt time.Time
}

func newRunRecord(workflowID string) *runRecord {
	return &runRecord{
		workflowID: workflowID,
		status: "running",
		startedAt: time.Now(),
	}
}

func (r *runRecord) snapshot() statusResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return statusResponse{
		Status: string(r.status),
		CompletedSteps: append([]string(nil), r.completed...),
		FailedSteps: append([]string(nil), r.failed...),
	}
}

func (r *runRecord) applyResult(res flow.FlowResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = res.Status
	r.output = res.Output
	r.errors = res.Errors
	r.resumeToken = res.ResumeToken
	r.finishedAt = time.Now()
}

func (r *runRecord) trackProgress(rc *flow.RunControl) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = rc.CompletedSteps()
	r.failed = rc.FailedSteps()
}

// runStore is a concurrency-safe map of runId -> runRecord.
type runStore struct {
	mu sync.RWMutex
	records map[string]*runRecord
}

func newRunStore() *runStore {
	return &runStore{records: make(map[string]*runRecord)}
}

func (s *runStore) create(runID, workflowID string) *runRecord {
	rec := newRunRecord(workflowID)
	s.mu.Lock()
	s.records[runID] = rec
	s.mu.Unlock()
	return rec
}

func (s *runStore) get(runID string) (*runRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[runID]
	return rec, ok
}
