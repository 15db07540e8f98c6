// Package daemon wires archflow's engine, registry, tool invoker,
// metrics, MCP broker and HTTP API into one running process, grounded
// on the internal/daemon/daemon.go (a Daemon struct composing
// its subsystems behind New/Start/Shutdown). archflow has no
// distributed mode, Postgres backend, leader election, webhook
// delivery or scheduler, so unlike the Daemon this one is a
// single in-memory composition root; see DESIGN.md for what was
// deliberately left out and why.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/archflow/archflow/internal/archlog"
	"github.com/archflow/archflow/internal/config"
	"github.com/archflow/archflow/internal/httpapi"
	"github.com/archflow/archflow/internal/httpapi/authgate"
	"github.com/archflow/archflow/internal/tool/builtin"
	"github.com/archflow/archflow/pkg/flow"
	"github.com/archflow/archflow/pkg/flowctx"
	"github.com/archflow/archflow/pkg/interceptor"
	"github.com/archflow/archflow/pkg/invoker"
	"github.com/archflow/archflow/pkg/mcpbroker"
	"github.com/archflow/archflow/pkg/metrics"
	"github.com/archflow/archflow/pkg/metrics/export"
	"github.com/archflow/archflow/pkg/registry"
	"github.com/archflow/archflow/pkg/streaming"
	"github.com/archflow/archflow/pkg/tracker"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options carries build-time version info (daemon.Options).
type Options struct {
	Version string
	Commit string
	BuildDate string
}

// Daemon composes every archflow subsystem into one process: workflow
// registry, tracker, interceptor chain, invoker, flow engine, SSE
// streaming registry, metrics collector/exporter, MCP broker and the
// HTTP control plane.
type Daemon struct {
	cfg *config.Config
	opts Options
	logger *slog.Logger

	registry *registry.Registry
	tracker *tracker.Tracker
	invoker *invoker.Invoker
	engine *flow.Engine
	streams *streaming.Registry
	metricsR *metrics.Registry
	collector *metrics.Collector
	broker *mcpbroker.Broker
	http *httpapi.Server
	tracerShutdown func(context.Context) error
}

// runnerAdapter satisfies pkg/mcpbroker.Runner by resolving a workflow
// id through the registry and driving it with the engine — the same
// re-entry describes for the MCP broker (K re-enters J).
type runnerAdapter struct {
	registry *registry.Registry
	engine *flow.Engine
	exec flow.StepExecutor
}

func (a *runnerAdapter) RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any) (flow.FlowResult, error) {
	def, ok := a.registry.Definition(workflowID)
	if !ok {
		return flow.FlowResult{}, fmt.Errorf("daemon: unknown workflow %q", workflowID)
	}
	flowCtx := flowctx.New(workflowID)
	flowCtx.SetInput(inputs)
	return a.engine.Run(ctx, workflowID, def, flowCtx, a.exec)
}

// New constructs a Daemon from cfg without starting any network
// listener; call Start to begin serving.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := archlog.New(archlog.Config{
		Level: cfg.Log.Level,
		Format: archlog.Format(cfg.Log.Format),
	})

	reg := registry.New()
	if cfg.WorkflowsDir != "" {
		if err := reg.Load(cfg.WorkflowsDir); err != nil {
			return nil, fmt.Errorf("daemon: load workflows from %s: %w", cfg.WorkflowsDir, err)
		}
	}

	trk := tracker.NewTracker(archlog.WithComponent(logger, "tracker"))
	tracer, tracerShutdown, err := buildTracer(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("daemon: build tracer: %w", err)
	}
	chain := interceptor.NewChain()
	chain.Use(interceptor.NewLogInterceptor(0, archlog.WithComponent(logger, "invoker")))
	chain.Use(interceptor.NewTracingInterceptor(5, tracer))

	tools := builtin.Registry()
	inv := invoker.NewInvoker(trk, chain, tools)

	engine := flow.NewEngine(flow.Config{
		Parallelism: cfg.Resources.Parallelism,
		DefaultTimeoutSec: cfg.Flow.DefaultTimeoutMs / 1000,
		Logger: archlog.WithComponent(logger, "engine"),
	})

	streams := streaming.NewRegistry(streaming.Config{
		MaxEmitters: cfg.Streaming.MaxEmitters,
		MaxQueueSize: cfg.Streaming.MaxQueueSize,
		IdleTimeout: time.Duration(cfg.Streaming.IdleTimeoutMs) * time.Millisecond,
	})

	metricsRegistry := metrics.NewRegistry()
	exporter := buildExporter(cfg.Metrics.Export, logger)
	collectorCfg := metrics.DefaultCollectorConfig()
	if cfg.Metrics.IntervalSec > 0 {
		collectorCfg.Interval = time.Duration(cfg.Metrics.IntervalSec) * time.Second
	}
	collectorCfg.Async = cfg.Metrics.Export.Async
	collector := metrics.NewCollector(metricsRegistry, exporter, collectorCfg, archlog.WithComponent(logger, "metrics"))

	exec := stepExecutor(inv)

	broker := mcpbroker.New("archflow", opts.Version, &runnerAdapter{registry: reg, engine: engine, exec: exec}, reg, nil)

	var authCfg *authgate.Config
	if cfg.HTTP.JWTKey != "" {
		authCfg = &authgate.Config{Secret: []byte(cfg.HTTP.JWTKey)}
	}

	httpServer := httpapi.New(
		httpapi.Config{Listen: cfg.HTTP.Listen, Auth: authCfg},
		engine,
		reg,
		exec,
		streams,
		metricsHandler(exporter),
		archlog.WithComponent(logger, "httpapi"),
	)

	return &Daemon{
		cfg: cfg,
		opts: opts,
		logger: logger,
		registry: reg,
		tracker: trk,
		invoker: inv,
		engine: engine,
		streams: streams,
		metricsR: metricsRegistry,
		collector: collector,
		broker: broker,
		http: httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// buildTracer constructs the trace.Tracer every TracingInterceptor
// invocation uses. Disabled (the default) returns the global no-op
// tracer so the interceptor chain pays no cost; enabled builds an SDK
// TracerProvider backed by the stdouttrace console exporter — archflow
// has no distributed collector to ship spans to, so stdout is the only
// backend wired today.
func buildTracer(cfg config.TracingConfig) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer("archflow"), func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("build stdouttrace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp.Tracer("archflow"), tp.Shutdown, nil
}

// buildExporter selects a metrics exporter from cfg.Backend
// (metrics.export.backend ∈ {log, prometheus, influxdb, http}),
// falling back to the log exporter for an unrecognized value rather
// than failing daemon startup over a typo'd config option.
func buildExporter(cfg config.MetricsExportConfig, logger *slog.Logger) metrics.Exporter {
	switch cfg.Backend {
	case "prometheus":
		return export.NewPrometheusExporter()
	case "influxdb":
		return export.NewInfluxDBExporter(cfg.URL)
	case "http":
		return export.NewHTTPExporter()
	default:
		return export.NewLogExporter(archlog.WithComponent(logger, "metrics.export"))
	}
}

// metricsHandler returns the http.Handler GET /api/metrics serves, for
// the exporters that expose one (prometheus, http); the log exporter
// has nothing to scrape, so /api/metrics answers 503 in that mode.
func metricsHandler(exporter metrics.Exporter) http.Handler {
	switch e := exporter.(type) {
	case *export.PrometheusExporter:
		return e.Handler()
	case *export.HTTPExporter:
		return e.Handler()
	default:
		return nil
	}
}

// stepExecutor builds the flow.StepExecutor every flow.Engine run
// dispatches steps through: each step's Config["tool"] names the tool
// to invoke via the invoker (the invoker boundary).
func stepExecutor(inv *invoker.Invoker) flow.StepExecutor {
	return func(ctx context.Context, step flow.Step, flowCtx *flowctx.Context) (flow.StepResult, error) {
		toolName, _ := step.Config["tool"].(string)
		if toolName == "" {
			toolName = string(step.Type)
		}
		input, _ := step.Config["input"].(map[string]any)
		result, err := inv.Execute(ctx, toolName, input, flowCtx)
		return flow.StepResult{
			StepID: step.ID,
			Status: flow.StepCompleted,
			Output: result,
			Metrics: flow.StepMetrics{TokensUsed: tokensUsed(result)},
		}, err
	}
}

// tokensUsed extracts a tool's reported token cost from its output: a
// tool backed by a chat completion reports usage back through its
// result map under "tokens_used", the same key the workflow-level usage
// rollup keys off.
func tokensUsed(result any) int64 {
	m, ok := result.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m["tokens_used"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Start runs the daemon until ctx is cancelled: serves the HTTP API
// (run/resume/pause/stop, SSE events, status, metrics) and blocks.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("archflow daemon starting",
		slog.String("version", d.opts.Version),
		slog.String("workflows_dir", d.cfg.WorkflowsDir),
		slog.Int("workflows", d.registry.Len()),
	)
	return d.http.Start(ctx)
}

// Shutdown stops the HTTP server, flushes the metrics collector and
// tracer, and closes the streaming registry.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.collector.Close()
	d.streams.Close()
	if err := d.tracerShutdown(ctx); err != nil {
		d.logger.Error("tracer shutdown failed", slog.Any("error", err))
	}
	return d.http.Shutdown(ctx)
}

// Broker exposes the daemon's MCP broker. Start serves only the HTTP
// API; nothing in this package or cmd/archflowd serves the broker.
func (d *Daemon) Broker() *mcpbroker.Broker {
	return d.broker
}
