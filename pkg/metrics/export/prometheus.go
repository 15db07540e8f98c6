package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter renders each snapshot as Prometheus text exposition
// format ("archflow_<metric>{labels} <value> <timestamp_ms>",
// counters suffixed "_total", stats as "_count"/"_sum"/"_min"/"_max"/"_avg"),
// served by Handler for /api/metrics' Prometheus-format branch. The
// dedicated prometheus.Registry it holds has no collectors registered,
// and Handler does not gather from it.
type PrometheusExporter struct {
	registry *prometheus.Registry

	mu sync.RWMutex
	last metrics.Snapshot
}

// NewPrometheusExporter constructs a PrometheusExporter backed by a
// dedicated prometheus.Registry (kept separate from the default global
// registry so archflow's own exported metrics don't collide with a
// host process's unrelated Prometheus instrumentation).
func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{registry: prometheus.NewRegistry()}
}

func (e *PrometheusExporter) Name() string { return "prometheus" }

// Export stores the latest snapshot for subsequent text rendering via
// Handler or WriteTo.
func (e *PrometheusExporter) Export(_ context.Context, snap metrics.Snapshot) error {
	e.mu.Lock()
	e.last = snap
	e.mu.Unlock()
	return nil
}

// WriteTo writes the last exported snapshot in Prometheus text
// exposition format.
func (e *PrometheusExporter) WriteTo(w io.Writer) error {
	e.mu.RLock()
	snap := e.last
	e.mu.RUnlock()

	ts := time.Now().UnixMilli()
	for _, k := range snap.CounterKeys() {
		if _, err := fmt.Fprintf(w, "archflow_%s_total %d %d\n", sanitize(k), snap.Counters[k], ts); err != nil {
			return err
		}
	}
	for _, k := range snap.GaugeKeys() {
		if _, err := fmt.Fprintf(w, "archflow_%s %v %d\n", sanitize(k), snap.Gauges[k], ts); err != nil {
			return err
		}
	}
	for _, k := range snap.StatKeys() {
		s := snap.Stats[k]
		name := sanitize(k)
		fmt.Fprintf(w, "archflow_%s_count %d %d\n", name, s.Count, ts)
		fmt.Fprintf(w, "archflow_%s_sum %v %d\n", name, s.Mean*float64(s.Count), ts)
		fmt.Fprintf(w, "archflow_%s_min %v %d\n", name, s.Min, ts)
		fmt.Fprintf(w, "archflow_%s_max %v %d\n", name, s.Max, ts)
		fmt.Fprintf(w, "archflow_%s_avg %v %d\n", name, s.Mean, ts)
	}
	return nil
}

// Handler returns an http.Handler that serves the last snapshot in
// Prometheus text format, suitable for mounting at GET /api/metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err := e.WriteTo(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
