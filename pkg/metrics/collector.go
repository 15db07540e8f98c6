package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StepMetrics captures duration/token/retry numbers for one step,
// mirroring the documented StepResult.StepMetrics.
type StepMetrics struct {
	Duration   time.Duration
	Tokens     int64
	RetryCount int
	Extra      map[string]float64
}

// FlowMetrics is the aggregated per-run metrics calls
// ExecutionMetrics.
type FlowMetrics struct {
	Duration time.Duration
	Tokens   int64
	Steps    int
}

// Exporter is the pluggable sink for periodic metrics snapshots: one
// of {log, prometheus, influxdb, http}.
type Exporter interface {
	Export(ctx context.Context, snap Snapshot) error
	Name() string
}

// CollectorConfig configures the periodic export loop.
type CollectorConfig struct {
	// Interval between automatic snapshots; default 5 minutes.
	Interval time.Duration
	// Async runs Export in its own goroutine so a slow/blocking sink
	// never stalls the critical execution path.
	Async bool
}

// DefaultCollectorConfig returns the default: 5-minute interval, async export.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{Interval: 5 * time.Minute, Async: true}
}

// Collector aggregates per-flow and per-step metrics into a Registry
// and periodically hands snapshots to an Exporter.
type Collector struct {
	registry *Registry
	exporter Exporter
	cfg      CollectorConfig
	logger   *slog.Logger

	mu        sync.Mutex
	flowStart map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a Collector backed by registry, exporting via
// exporter on cfg.Interval. Pass a nil exporter to disable periodic
// export (aggregate/Close still work).
func NewCollector(registry *Registry, exporter Exporter, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCollectorConfig().Interval
	}
	c := &Collector{
		registry:  registry,
		exporter:  exporter,
		cfg:       cfg,
		logger:    logger,
		flowStart: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if exporter != nil {
		go c.exportLoop()
	} else {
		close(c.doneCh)
	}
	return c
}

func (c *Collector) exportLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.export(context.Background())
		}
	}
}

func (c *Collector) export(ctx context.Context) {
	snap := c.registry.Snapshot()
	run := func() {
		if err := c.exporter.Export(ctx, snap); err != nil {
			// Export failures are logged but never propagate to the
			// running flow.
			c.logger.Error("metrics export failed", "exporter", c.exporter.Name(), "error", err)
		}
	}
	if c.cfg.Async {
		go run()
	} else {
		run()
	}
}

// RecordFlowStart marks flowID as started.
func (c *Collector) RecordFlowStart(flowID string) {
	c.mu.Lock()
	c.flowStart[flowID] = time.Now()
	c.mu.Unlock()
	c.registry.IncrCounter("flow.starts", 1)
	c.registry.AddGauge("flow.active", 1)
}

// RecordFlowCompletion records a flow's terminal metrics.
func (c *Collector) RecordFlowCompletion(flowID string, m FlowMetrics, success bool) {
	c.mu.Lock()
	delete(c.flowStart, flowID)
	c.mu.Unlock()
	c.registry.AddGauge("flow.active", -1)
	if success {
		c.registry.IncrCounter("flow.completed", 1)
	} else {
		c.registry.IncrCounter("flow.failed", 1)
	}
	c.registry.RecordValue("flow.duration_ms", float64(m.Duration.Milliseconds()))
	c.registry.IncrCounter("flow.tokens_total", m.Tokens)
}

// RecordFlowError records a flow-level error occurrence.
func (c *Collector) RecordFlowError(flowID string, err error) {
	c.registry.IncrCounter("flow.errors", 1)
}

// RecordStepMetrics records one step's execution metrics.
func (c *Collector) RecordStepMetrics(flowID, stepID string, m StepMetrics) {
	c.registry.IncrCounter("step.executions", 1)
	c.registry.RecordValue("step.duration_ms", float64(m.Duration.Milliseconds()))
	c.registry.IncrCounter("step.tokens_total", m.Tokens)
	if m.RetryCount > 0 {
		c.registry.IncrCounter("step.retries", int64(m.RetryCount))
	}
	for k, v := range m.Extra {
		c.registry.RecordValue("step.extra."+k, v)
	}
}

// RecordFlowStatus records a status transition as a counter, keyed by status.
func (c *Collector) RecordFlowStatus(flowID, status string) {
	c.registry.IncrCounter("flow.status."+status, 1)
}

// AggregatedMetrics is the result of Aggregate: counters, gauges,
// and per-key stats (count/min/max/mean).
type AggregatedMetrics struct {
	Counters map[string]int64
	Gauges   map[string]float64
	Stats    map[string]Stat
}

// Aggregate returns the current registry snapshot shaped as
// AggregatedMetrics.
func (c *Collector) Aggregate() AggregatedMetrics {
	snap := c.registry.Snapshot()
	return AggregatedMetrics{Counters: snap.Counters, Gauges: snap.Gauges, Stats: snap.Stats}
}

// Close stops the periodic exporter and flushes one final snapshot.
func (c *Collector) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
	if c.exporter != nil {
		snap := c.registry.Snapshot()
		if err := c.exporter.Export(context.Background(), snap); err != nil {
			c.logger.Error("final metrics export failed", "exporter", c.exporter.Name(), "error", err)
		}
	}
}
