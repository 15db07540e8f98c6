// Package export implements archflow's pluggable metrics export
// backends (the config options): log, prometheus, influxdb, http, plus an
// OpenTelemetry metric bridge grounded on
// internal/tracing/metrics.go.
package export

import (
	"context"
	"log/slog"

	"github.com/archflow/archflow/pkg/metrics"
)

// LogExporter writes each snapshot as a structured log line via
// log/slog, matching the default observability posture.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter constructs a LogExporter. A nil logger uses slog.Default().
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) Name() string { return "log" }

func (e *LogExporter) Export(_ context.Context, snap metrics.Snapshot) error {
	for _, k := range snap.CounterKeys() {
		e.logger.Info("metric", "kind", "counter", "name", k, "value", snap.Counters[k])
	}
	for _, k := range snap.GaugeKeys() {
		e.logger.Info("metric", "kind", "gauge", "name", k, "value", snap.Gauges[k])
	}
	for _, k := range snap.StatKeys() {
		s := snap.Stats[k]
		e.logger.Info("metric", "kind", "stat", "name", k,
			"count", s.Count, "min", s.Min, "max", s.Max, "mean", s.Mean)
	}
	return nil
}
