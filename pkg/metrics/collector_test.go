package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExporter records every snapshot handed to Export, guarded by a
// mutex since the collector's async mode exports from its own goroutine.
type fakeExporter struct {
	mu sync.Mutex
	calls []Snapshot
	err error
}

func (f *fakeExporter) Name() string { return "fake" }

func (f *fakeExporter) Export(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, snap)
	return f.err
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRecordFlowLifecycle(t *testing.T) {
	registry := NewRegistry()
	c := NewCollector(registry, nil, CollectorConfig{}, nil)
	defer c.Close()
	c.RecordFlowStart("flow-1")
	assert.Equal(t, int64(1), registry.Counter("flow.starts"))
	assert.Equal(t, 1.0, registry.Gauge("flow.active"))

	c.RecordFlowCompletion("flow-1", FlowMetrics{Duration: 2 * time.Second, Tokens: 42, Steps: 3}, true)
	assert.Equal(t, int64(1), registry.Counter("flow.completed"))
	assert.Equal(t, 0.0, registry.Gauge("flow.active"))
	assert.Equal(t, int64(42), registry.Counter("flow.tokens_total"))
}

func TestRecordFlowCompletionFailure(t *testing.T) {
	registry := NewRegistry()
	c := NewCollector(registry, nil, CollectorConfig{}, nil)
	defer c.Close()
	c.RecordFlowStart("flow-2")
	c.RecordFlowCompletion("flow-2", FlowMetrics{Duration: time.Second}, false)

	assert.Equal(t, int64(1), registry.Counter("flow.failed"))
	assert.Equal(t, int64(0), registry.Counter("flow.completed"))
}

func TestRecordStepMetrics(t *testing.T) {
	registry := NewRegistry()
	c := NewCollector(registry, nil, CollectorConfig{}, nil)
	defer c.Close()
	c.RecordStepMetrics("flow-1", "step-a", StepMetrics{
		Duration: 500 * time.Millisecond,
		Tokens: 10,
		RetryCount: 2,
		Extra: map[string]float64{"cache_hit_rate": 0.75},
	})

	assert.Equal(t, int64(1), registry.Counter("step.executions"))
	assert.Equal(t, int64(10), registry.Counter("step.tokens_total"))
	assert.Equal(t, int64(2), registry.Counter("step.retries"))
	stat := registry.Stat("step.extra.cache_hit_rate")
	require.Equal(t, 1, stat.Count)
	assert.InDelta(t, 0.75, stat.Mean, 0.0001)
}

func TestAggregateReflectsRegistry(t *testing.T) {
	registry := NewRegistry()
	c := NewCollector(registry, nil, CollectorConfig{}, nil)
	defer c.Close()
	registry.IncrCounter("x", 3)
	agg := c.Aggregate()
	assert.Equal(t, int64(3), agg.Counters["x"])
}

func TestCloseFlushesFinalSnapshotSynchronously(t *testing.T) {
	registry := NewRegistry()
	exp := &fakeExporter{}
	c := NewCollector(registry, exp, CollectorConfig{Interval: time.Hour, Async: true}, nil)

	registry.IncrCounter("flow.completed", 1)
	c.Close()

	// Close must have performed its flush synchronously, not merely
	// kicked off a goroutine — so the count must already be 1 upon return.
	assert.Equal(t, 1, exp.count())
	assert.Equal(t, int64(1), exp.calls[0].Counters["flow.completed"])
}

func TestCloseWithNilExporterIsSafe(t *testing.T) {
	registry := NewRegistry()
	c := NewCollector(registry, nil, CollectorConfig{}, nil)
	c.Close()
}

func TestExportLoopExportsPeriodically(t *testing.T) {
	registry := NewRegistry()
	exp := &fakeExporter{}
	c := NewCollector(registry, exp, CollectorConfig{Interval: 20 * time.Millisecond, Async: false}, nil)
	defer c.Close()
	registry.IncrCounter("tick", 1)

	require.Eventually(t, func() bool {
		return exp.count() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestExportFailureDoesNotPanic(t *testing.T) {
	registry := NewRegistry()
	exp := &fakeExporter{err: assertError{}}
	c := NewCollector(registry, exp, CollectorConfig{Interval: 20 * time.Millisecond, Async: false}, nil)
	defer c.Close()
	require.Eventually(t, func() bool {
		return exp.count() >= 1
	}, time.Second, 5*time.Millisecond)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
