package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/archflow/archflow/pkg/metrics"
)

// InfluxDBExporter renders snapshots as InfluxDB line protocol
// ("archflow_<kind>,metric=<name> value=<v> <timestamp_ns>")
// and POSTs the batch to an InfluxDB write endpoint. No InfluxDB client
// library exists anywhere in the retrieved example corpus, so the line
// protocol is hand-formatted against stdlib fmt/net/http — see
// DESIGN.md.
type InfluxDBExporter struct {
	writeURL string
	client *http.Client
}

// NewInfluxDBExporter constructs an exporter that POSTs line-protocol
// batches to writeURL (an InfluxDB /api/v2/write-style endpoint).
func NewInfluxDBExporter(writeURL string) *InfluxDBExporter {
	return &InfluxDBExporter{writeURL: writeURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (e *InfluxDBExporter) Name() string { return "influxdb" }

func (e *InfluxDBExporter) Export(ctx context.Context, snap metrics.Snapshot) error {
	var buf bytes.Buffer
	ts := time.Now().UnixNano()

	for _, k := range snap.CounterKeys() {
		fmt.Fprintf(&buf, "archflow_counter,metric=%s value=%d %d\n", k, snap.Counters[k], ts)
	}
	for _, k := range snap.GaugeKeys() {
		fmt.Fprintf(&buf, "archflow_gauge,metric=%s value=%v %d\n", k, snap.Gauges[k], ts)
	}
	for _, k := range snap.StatKeys() {
		s := snap.Stats[k]
		fmt.Fprintf(&buf, "archflow_stat,metric=%s count=%d,min=%v,max=%v,mean=%v %d\n",
			k, s.Count, s.Min, s.Max, s.Mean, ts)
	}

	if e.writeURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.writeURL, &buf)
	if err != nil {
		return fmt.Errorf("influxdb export: build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("influxdb export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("influxdb export: unexpected status %d", resp.StatusCode)
	}
	return nil
}
