// Package tracker implements archflow's Execution Tracker (// §4.D): ExecutionRecord lifecycles and parent/child topology, grounded
// on the pkg/tools/registry.go (RWMutex-guarded map with
// typed not-found errors) and pkg/workflow/workflow.go's lifecycle
// timestamp fields (StartedAt/CompletedAt).
package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/execid"
)

// Status is an ExecutionRecord's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed Status = "failed"
)

// Record is the tracked lifecycle state of one execution (// "ExecutionRecord").
type Record struct {
	ID execid.Id
	Start time.Time
	End time.Time
	Status Status
	Children []execid.Id
	Result any
	Err error
}

// HasEnd reports whether End has been set (status != running).
func (r Record) HasEnd() bool { return !r.End.IsZero() }

type entry struct {
	mu sync.Mutex
	record Record
}

// Tracker owns ExecutionRecord lifecycles and the parent/child topology
// across one or more runs. Safe for concurrent use.
type Tracker struct {
	seq atomic.Uint64

	mu sync.RWMutex
	entries map[string]*entry // keyed by id.String()

	logger Logger
}

// nullLogger discards debug lines when no logger is supplied.
type nullLogger struct{}

func (nullLogger) Debug(string, ...any) {}

// Logger is the minimal interface the tracker needs for its debug-level
// idempotent-transition notice; *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
}

// NewTracker constructs an empty Tracker. A nil logger disables debug
// logging of idempotent complete/fail calls.
func NewTracker(logger Logger) *Tracker {
	if logger == nil {
		logger = nullLogger{}
	}
	return &Tracker{entries: make(map[string]*entry), logger: logger}
}

// StartRoot creates a new root record in state = running.
func (t *Tracker) StartRoot(kind execid.Kind) (execid.Id, error) {
	id, err := execid.NewRoot(kind)
	if err != nil {
		return execid.Id{}, err
	}
	seq := t.seq.Add(1) - 1
	id = id.WithSequence(seq)

	e := &entry{record: Record{ID: id, Start: time.Now(), Status: StatusRunning}}
	t.mu.Lock()
	t.entries[id.String()] = e
	t.mu.Unlock()
	return id, nil
}

// StartChild atomically allocates the next process-wide sequence,
// constructs a child id, creates its record, and appends it to the
// parent's children. Fails with ParentNotFoundError if parentID is unknown.
func (t *Tracker) StartChild(parentID execid.Id, kind execid.Kind) (execid.Id, error) {
	t.mu.RLock()
	parentEntry, ok := t.entries[parentID.String()]
	t.mu.RUnlock()
	if !ok {
		return execid.Id{}, &archerr.ParentNotFoundError{ParentID: parentID.String()}
	}

	child, err := execid.DeriveChild(parentID, kind)
	if err != nil {
		return execid.Id{}, err
	}
	seq := t.seq.Add(1) - 1
	child = child.WithSequence(seq)

	e := &entry{record: Record{ID: child, Start: time.Now(), Status: StatusRunning}}
	t.mu.Lock()
	t.entries[child.String()] = e
	t.mu.Unlock()

	parentEntry.mu.Lock()
	parentEntry.record.Children = append(parentEntry.record.Children, child)
	parentEntry.mu.Unlock()

	return child, nil
}

// Complete transitions id to completed, setting its end instant and
// result. Idempotent: a repeated call after a terminal state is already
// set is a no-op, logged at debug.
func (t *Tracker) Complete(id execid.Id, result any) {
	t.finish(id, StatusCompleted, result, nil)
}

// Fail transitions id to failed, setting its end instant and error.
// Idempotent like Complete.
func (t *Tracker) Fail(id execid.Id, err error) {
	t.finish(id, StatusFailed, nil, err)
}

func (t *Tracker) finish(id execid.Id, status Status, result any, err error) {
	t.mu.RLock()
	e, ok := t.entries[id.String()]
	t.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.Status != StatusRunning {
		t.logger.Debug("tracker: ignoring repeated terminal transition", "id", id.String(), "status", e.record.Status)
		return
	}
	e.record.Status = status
	e.record.End = time.Now()
	e.record.Result = result
	e.record.Err = err
}

// GetRecord returns a copy of the record for id, and whether it exists.
func (t *Tracker) GetRecord(id execid.Id) (Record, bool) {
	t.mu.RLock()
	e, ok := t.entries[id.String()]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecord(e.record), true
}

// GetChildren returns the direct children of id, in registration order.
func (t *Tracker) GetChildren(id execid.Id) []execid.Id {
	t.mu.RLock()
	e, ok := t.entries[id.String()]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]execid.Id, len(e.record.Children))
	copy(out, e.record.Children)
	return out
}

// GetHierarchy returns the records reachable from rootID in pre-order
// traversal (rootID's own record first, then each child's subtree in
// registration order).
func (t *Tracker) GetHierarchy(rootID execid.Id) []Record {
	var out []Record
	t.walkPreOrder(rootID, &out)
	return out
}

func (t *Tracker) walkPreOrder(id execid.Id, out *[]Record) {
	rec, ok := t.GetRecord(id)
	if !ok {
		return
	}
	*out = append(*out, rec)
	for _, child := range rec.Children {
		t.walkPreOrder(child, out)
	}
}

// Remove deletes id's record and recursively all descendants.
func (t *Tracker) Remove(id execid.Id) {
	rec, ok := t.GetRecord(id)
	if !ok {
		return
	}
	for _, child := range rec.Children {
		t.Remove(child)
	}
	t.mu.Lock()
	delete(t.entries, id.String())
	t.mu.Unlock()
}

// Cleanup removes every non-running record whose end instant precedes
// olderThan.
func (t *Tracker) Cleanup(olderThan time.Time) int {
	var toRemove []execid.Id

	t.mu.RLock()
	for _, e := range t.entries {
		e.mu.Lock()
		if e.record.Status != StatusRunning && e.record.End.Before(olderThan) {
			toRemove = append(toRemove, e.record.ID)
		}
		e.mu.Unlock()
	}
	t.mu.RUnlock()

	t.mu.Lock()
	for _, id := range toRemove {
		delete(t.entries, id.String())
	}
	t.mu.Unlock()

	return len(toRemove)
}

// Stats summarizes the tracker's current record population.
type Stats struct {
	Total int
	Running int
	Completed int
	Failed int
}

// StatsSnapshot returns (total, running, completed, failed) counts.
func (t *Tracker) StatsSnapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{Total: len(t.entries)}
	for _, e := range t.entries {
		e.mu.Lock()
		switch e.record.Status {
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
		e.mu.Unlock()
	}
	return s
}

// allIDs returns every tracked id, sorted, for deterministic test
// iteration (unexported, test helper only).
func (t *Tracker) allIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.entries))
	for k := range t.entries {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

func cloneRecord(r Record) Record {
	children := make([]execid.Id, len(r.Children))
	copy(children, r.Children)
	r.Children = children
	return r
}
