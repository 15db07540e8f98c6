package interceptor

import (
	"context"
	"errors"
	"testing"

	"github.com/archflow/archflow/pkg/execid"
	"github.com/archflow/archflow/pkg/flowctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingInterceptor appends its name to a shared log at every hook,
// so tests can assert ordering.
type recordingInterceptor struct {
	name string
	order int
	log *[]string
	onErr func(tc *ToolContext, err error) error
}

func (r *recordingInterceptor) Name() string { return r.name }
func (r *recordingInterceptor) Order() int { return r.order }

func (r *recordingInterceptor) BeforeExecute(_ context.Context, _ *ToolContext) error {
	*r.log = append(*r.log, r.name+":before")
	return nil
}

func (r *recordingInterceptor) AfterExecute(_ context.Context, _ *ToolContext, result any) (any, error) {
	*r.log = append(*r.log, r.name+":after")
	return result, nil
}

func (r *recordingInterceptor) OnError(_ context.Context, tc *ToolContext, err error) error {
	*r.log = append(*r.log, r.name+":error")
	if r.onErr != nil {
		return r.onErr(tc, err)
	}
	return err
}

func newTC() *ToolContext {
	id, _ := execid.NewRoot(execid.KindTool)
	return NewToolContext(id, "demo", map[string]any{"x": 1}, flowctx.New("flow-1"))
}

func TestChainOrdersBeforeAscendingAfterDescending(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(&recordingInterceptor{name: "a", order: 1, log: &log})
	c.Use(&recordingInterceptor{name: "b", order: 2, log: &log})

	_, err := c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a:before", "b:before", "b:after", "a:after"}, log)
}

func TestChainTiesPreserveRegistrationOrder(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(&recordingInterceptor{name: "first", order: 5, log: &log})
	c.Use(&recordingInterceptor{name: "second", order: 5, log: &log})

	_, err := c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first:before", "second:before", "second:after", "first:after"}, log)
}

func TestChainHaltsOnBeforeExecuteHalt(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(NewValidateInterceptor(0, "required_field"))
	c.Use(&recordingInterceptor{name: "never", order: 10, log: &log})

	called := false
	_, err := c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		called = true
		return "ok", nil
	})

	require.Error(t, err)
	assert.False(t, called, "executor must not run after a halt")
	assert.Empty(t, log, "later interceptors must not run after a halt")
}

func TestChainWalksOnErrorInReverseAndPropagatesError(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(&recordingInterceptor{name: "a", order: 1, log: &log})
	c.Use(&recordingInterceptor{name: "b", order: 2, log: &log})

	boom := errors.New("boom")
	_, err := c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a:before", "b:before", "b:error", "a:error"}, log)
}

func TestChainOnErrorRecoveryByResult(t *testing.T) {
	c := NewChain()
	c.Use(&recordingInterceptor{
		name: "recover", order: 1, log: &[]string{},
		onErr: func(tc *ToolContext, _ error) error {
			tc.Result = "recovered"
			return nil
		},
	})

	result, err := c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return nil, errors.New("boom")
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
}

func TestCacheInterceptorShortCircuitsOnHit(t *testing.T) {
	cache := NewMemoryCache()
	c := NewChain()
	c.Use(NewCacheInterceptor(0, cache))

	calls := 0
	exec := func(context.Context, *ToolContext) (any, error) {
		calls++
		return "computed", nil
	}

	tc1 := newTC()
	result1, err := c.Execute(context.Background(), tc1, exec)
	require.NoError(t, err)
	assert.Equal(t, "computed", result1)
	assert.Equal(t, 1, calls)

	tc2 := newTC()
	result2, err := c.Execute(context.Background(), tc2, exec)
	require.NoError(t, err)
	assert.Equal(t, "computed", result2)
	assert.True(t, tc2.Cached)
	assert.Equal(t, 1, calls, "a cache hit must not invoke the executor again")
}

func TestMeterInterceptorRecordsOnSuccessAndError(t *testing.T) {
	registry := &fakeRecorder{counters: map[string]int64{}}
	c := NewChain()
	c.Use(NewMeterInterceptor(0, registry))

	_, _ = c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return "ok", nil
	})
	assert.Equal(t, int64(1), registry.counters["tool.demo.calls"])

	_, _ = c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return nil, errors.New("boom")
	})
	assert.Equal(t, int64(1), registry.counters["tool.demo.errors"])
}

type fakeRecorder struct {
	counters map[string]int64
}

func (f *fakeRecorder) IncrCounter(name string, delta int64) { f.counters[name] += delta }
func (f *fakeRecorder) RecordValue(string, float64) {}

func TestTracingInterceptorEndsSpanOnSuccessAndError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	c := NewChain()
	c.Use(NewTracingInterceptor(0, tp.Tracer("test")))

	_, err := c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), newTC(), func(context.Context, *ToolContext) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "tool.demo", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "tool.demo", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
