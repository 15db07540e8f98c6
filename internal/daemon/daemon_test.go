package daemon

import (
	"testing"

	"github.com/archflow/archflow/internal/archlog"
	"github.com/archflow/archflow/internal/config"
	"github.com/archflow/archflow/pkg/metrics/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.WorkflowsDir = ""
	cfg.HTTP.Listen = "127.0.0.1:0"
	return cfg
}

func TestNewBuildsDaemonWithoutError(t *testing.T) {
	d, err := New(testConfig(), Options{Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.NotNil(t, d.Broker())
	d.collector.Close()
}

func TestBuildExporterSelectsBackend(t *testing.T) {
	tests := []struct {
		backend string
		want any
	}{
		{"prometheus", &export.PrometheusExporter{}},
		{"http", &export.HTTPExporter{}},
		{"influxdb", &export.InfluxDBExporter{}},
		{"log", &export.LogExporter{}},
		{"unknown", &export.LogExporter{}},
	}
	logger := archlog.New(archlog.DefaultConfig())
	for _, tt := range tests {
		got := buildExporter(config.MetricsExportConfig{Backend: tt.backend}, logger)
		assert.IsType(t, tt.want, got)
	}
}

func TestMetricsHandlerOnlyForScrapableExporters(t *testing.T) {
	assert.NotNil(t, metricsHandler(export.NewPrometheusExporter()))
	assert.NotNil(t, metricsHandler(export.NewHTTPExporter()))
	assert.Nil(t, metricsHandler(export.NewLogExporter(nil)))
}
