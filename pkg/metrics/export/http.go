package export

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/metrics"
)

// httpSnapshotDoc is the JSON shape for the HTTP export backend
// ("{timestamp, counters:{...}, values:{...}, stats:{...}}").
type httpSnapshotDoc struct {
	Timestamp time.Time `json:"timestamp"`
	Counters map[string]int64 `json:"counters"`
	Values map[string]float64 `json:"values"`
	Stats map[string]metrics.Stat `json:"stats"`
}

// HTTPExporter keeps the latest snapshot and serves it as JSON,
// matching the net/http JSON-response idiom
// (internal/controller/api/events.go).
type HTTPExporter struct {
	mu sync.RWMutex
	last httpSnapshotDoc
}

// NewHTTPExporter constructs an HTTPExporter.
func NewHTTPExporter() *HTTPExporter {
	return &HTTPExporter{}
}

func (e *HTTPExporter) Name() string { return "http" }

func (e *HTTPExporter) Export(_ context.Context, snap metrics.Snapshot) error {
	doc := httpSnapshotDoc{
		Timestamp: time.Now(),
		Counters: snap.Counters,
		Values: snap.Gauges,
		Stats: snap.Stats,
	}
	e.mu.Lock()
	e.last = doc
	e.mu.Unlock()
	return nil
}

// Handler returns an http.Handler serving GET /api/metrics as JSON.
func (e *HTTPExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.RLock()
		doc := e.last
		e.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})
}
