package export

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/archflow/archflow/pkg/metrics"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() metrics.Snapshot {
	r := metrics.NewRegistry()
	r.IncrCounter("flow.completed", 3)
	r.SetGauge("flow.active", 2)
	r.RecordValue("step.duration_ms", 10)
	r.RecordValue("step.duration_ms", 20)
	return r.Snapshot()
}

func TestLogExporterExportDoesNotError(t *testing.T) {
	exp := NewLogExporter(nil)
	assert.Equal(t, "log", exp.Name())
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))
}

func TestPrometheusExporterWriteTo(t *testing.T) {
	exp := NewPrometheusExporter()
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))

	var buf strings.Builder
	require.NoError(t, exp.WriteTo(&buf))

	out := buf.String()
	assert.Contains(t, out, "archflow_flow_completed_total 3")
	assert.Contains(t, out, "archflow_flow_active 2")
	assert.Contains(t, out, "archflow_step_duration_ms_count 2")
	assert.Contains(t, out, "archflow_step_duration_ms_min 10")
	assert.Contains(t, out, "archflow_step_duration_ms_max 20")
}

func TestPrometheusExporterHandler(t *testing.T) {
	exp := NewPrometheusExporter()
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archflow_flow_completed_total")
}

func TestInfluxDBExporterNoURLIsNoop(t *testing.T) {
	exp := NewInfluxDBExporter("")
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))
}

func TestInfluxDBExporterPostsLineProtocol(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		received = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	exp := NewInfluxDBExporter(srv.URL)
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))

	assert.Contains(t, received, "archflow_counter,metric=flow.completed value=3")
	assert.Contains(t, received, "archflow_gauge,metric=flow.active value=2")
}

func TestHTTPExporterServesJSON(t *testing.T) {
	exp := NewHTTPExporter()
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"counters"`)
	assert.Contains(t, rec.Body.String(), `"flow.completed":3`)
}

func TestOTelExporterExportsWithoutError(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	exp, err := NewOTelExporter(provider)
	require.NoError(t, err)
	assert.Equal(t, "otel", exp.Name())

	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))
	require.NoError(t, exp.Export(context.Background(), sampleSnapshot()))
	require.NoError(t, exp.Close())
}
