package interceptor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ValidateInterceptor rejects invocations whose input is missing a
// required key, halting the chain before the executor runs. This is
// the generalization of the registry.Interceptor.Intercept
// policy gate into a chain stage.
type ValidateInterceptor struct {
	order int
	Required []string
}

// NewValidateInterceptor constructs a ValidateInterceptor requiring the
// named input keys, positioned at the given order.
func NewValidateInterceptor(order int, required ...string) *ValidateInterceptor {
	return &ValidateInterceptor{order: order, Required: required}
}

func (v *ValidateInterceptor) Name() string { return "validate" }
func (v *ValidateInterceptor) Order() int { return v.order }

func (v *ValidateInterceptor) BeforeExecute(_ context.Context, tc *ToolContext) error {
	for _, key := range v.Required {
		if _, ok := tc.Input[key]; !ok {
			return &archerr.InterceptorHaltError{Interceptor: v.Name(), Reason: fmt.Sprintf("missing required input %q", key)}
		}
	}
	return nil
}

func (v *ValidateInterceptor) AfterExecute(_ context.Context, _ *ToolContext, result any) (any, error) {
	return result, nil
}

func (v *ValidateInterceptor) OnError(_ context.Context, _ *ToolContext, _ error) error { return nil }

// LogInterceptor writes structured start/end/error log lines via
// log/slog, matching the default observability posture
// (internal/archlog).
type LogInterceptor struct {
	order int
	logger *slog.Logger
}

// NewLogInterceptor constructs a LogInterceptor. A nil logger uses slog.Default().
func NewLogInterceptor(order int, logger *slog.Logger) *LogInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogInterceptor{order: order, logger: logger}
}

func (l *LogInterceptor) Name() string { return "log" }
func (l *LogInterceptor) Order() int { return l.order }

func (l *LogInterceptor) BeforeExecute(_ context.Context, tc *ToolContext) error {
	l.logger.Info("tool invocation starting", "tool", tc.ToolName, "executionId", tc.ExecutionID.String())
	return nil
}

func (l *LogInterceptor) AfterExecute(_ context.Context, tc *ToolContext, result any) (any, error) {
	l.logger.Info("tool invocation completed", "tool", tc.ToolName, "executionId", tc.ExecutionID.String(),
		"duration", tc.End.Sub(tc.Start))
	return result, nil
}

func (l *LogInterceptor) OnError(_ context.Context, tc *ToolContext, err error) error {
	l.logger.Error("tool invocation failed", "tool", tc.ToolName, "executionId", tc.ExecutionID.String(), "error", err)
	return err
}

// Cache is the minimal store CacheInterceptor needs; an in-process map
// guarded by a mutex is the default implementation.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MemoryCache is an in-process Cache backed by a mutex-guarded map.
type MemoryCache struct {
	mu sync.RWMutex
	items map[string]any
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]any)}
}

func (m *MemoryCache) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryCache) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

// CacheInterceptor short-circuits execution with a cached result when
// the (tool name, input) pair was seen before. The cache key is a
// sha256 digest of the tool name and a canonical JSON encoding of the
// input.
type CacheInterceptor struct {
	order int
	cache Cache
}

// NewCacheInterceptor constructs a CacheInterceptor over cache.
func NewCacheInterceptor(order int, cache Cache) *CacheInterceptor {
	return &CacheInterceptor{order: order, cache: cache}
}

func (c *CacheInterceptor) Name() string { return "cache" }
func (c *CacheInterceptor) Order() int { return c.order }

func cacheKey(toolName string, input map[string]any) (string, error) {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(toolName+":"), encoded...))
	return hex.EncodeToString(sum[:]), nil
}

func (c *CacheInterceptor) BeforeExecute(_ context.Context, tc *ToolContext) error {
	key, err := cacheKey(tc.ToolName, tc.Input)
	if err != nil {
		return nil // cache is best-effort; never fail the invocation over a key-encoding error
	}
	tc.SetAttr("_cache.key", key)
	if cached, ok := c.cache.Get(key); ok {
		tc.Result = cached
		tc.Cached = true
	}
	return nil
}

func (c *CacheInterceptor) AfterExecute(_ context.Context, tc *ToolContext, result any) (any, error) {
	if tc.Cached {
		return result, nil
	}
	if key, ok := tc.Attr("_cache.key"); ok {
		c.cache.Set(key.(string), result)
	}
	return result, nil
}

func (c *CacheInterceptor) OnError(_ context.Context, _ *ToolContext, _ error) error { return nil }

// MeterRecorder is the minimal surface MeterInterceptor needs from
// pkg/metrics.Registry, kept narrow to avoid a hard dependency cycle.
type MeterRecorder interface {
	IncrCounter(name string, delta int64)
	RecordValue(key string, value float64)
}

// MeterInterceptor records per-tool invocation counts and durations
// into a MeterRecorder (typically *metrics.Registry).
type MeterInterceptor struct {
	order int
	recorder MeterRecorder
}

// NewMeterInterceptor constructs a MeterInterceptor over recorder.
func NewMeterInterceptor(order int, recorder MeterRecorder) *MeterInterceptor {
	return &MeterInterceptor{order: order, recorder: recorder}
}

func (m *MeterInterceptor) Name() string { return "meter" }
func (m *MeterInterceptor) Order() int { return m.order }

func (m *MeterInterceptor) BeforeExecute(_ context.Context, tc *ToolContext) error {
	tc.SetAttr(StartTimeAttr, time.Now())
	return nil
}

func (m *MeterInterceptor) AfterExecute(_ context.Context, tc *ToolContext, result any) (any, error) {
	m.recorder.IncrCounter("tool."+tc.ToolName+".calls", 1)
	m.recorder.RecordValue("tool."+tc.ToolName+".duration_ms", float64(tc.End.Sub(tc.Start).Milliseconds()))
	return result, nil
}

func (m *MeterInterceptor) OnError(_ context.Context, tc *ToolContext, _ error) error {
	m.recorder.IncrCounter("tool."+tc.ToolName+".errors", 1)
	return nil
}

// spanAttr is the reserved ToolContext attribute key TracingInterceptor
// uses to carry the span it opened in BeforeExecute through to
// AfterExecute/OnError, the same stash-on-tc pattern MeterInterceptor
// uses for StartTimeAttr.
const spanAttr = "_tracing.span"

// TracingInterceptor opens an OpenTelemetry span around each tool
// invocation and closes it in AfterExecute/OnError, recording the
// error and a non-OK status code on failure.
type TracingInterceptor struct {
	order int
	tracer trace.Tracer
}

// NewTracingInterceptor constructs a TracingInterceptor over tracer. A
// nil tracer falls back to the global no-op tracer, so wiring this
// interceptor is always safe even before a TracerProvider is configured.
func NewTracingInterceptor(order int, tracer trace.Tracer) *TracingInterceptor {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("archflow")
	}
	return &TracingInterceptor{order: order, tracer: tracer}
}

func (t *TracingInterceptor) Name() string { return "tracing" }
func (t *TracingInterceptor) Order() int { return t.order }

func (t *TracingInterceptor) BeforeExecute(ctx context.Context, tc *ToolContext) error {
	_, span := t.tracer.Start(ctx, "tool."+tc.ToolName, trace.WithAttributes(
		attribute.String("archflow.execution_id", tc.ExecutionID.String()),
		attribute.String("archflow.tool", tc.ToolName),
	))
	tc.SetAttr(spanAttr, span)
	return nil
}

func (t *TracingInterceptor) AfterExecute(_ context.Context, tc *ToolContext, result any) (any, error) {
	if v, ok := tc.Attr(spanAttr); ok {
		span := v.(trace.Span)
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return result, nil
}

func (t *TracingInterceptor) OnError(_ context.Context, tc *ToolContext, err error) error {
	if v, ok := tc.Attr(spanAttr); ok {
		span := v.(trace.Span)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
	return nil
}
