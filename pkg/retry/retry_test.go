package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRunSucceedsFirstAttempt(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2}
	calls := 0

	result, err := Run(context.Background(), policy, func(context.Context) (any, error) {
		calls++
		return "ok", nil
	}, Listener{})

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 1, calls)
	assert.Len(t, result.Attempts, 1)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 2}
	calls := 0

	result, err := Run(context.Background(), policy, func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, Listener{})

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 3, calls)
	assert.Len(t, result.Attempts, 3)
}

func TestRunExhaustsAndRaisesRetryExhausted(t *testing.T) {
	policy := Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffMultiplier: 1}
	var exhausted []Attempt

	_, err := Run(context.Background(), policy, func(context.Context) (any, error) {
		return nil, errors.New("always fails")
	}, Listener{
		OnExhausted: func(attempts []Attempt) { exhausted = attempts },
	})

	require.Error(t, err)
	var re *archerr.RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Len(t, re.Attempts, 2)
	assert.Len(t, exhausted, 2)
}

func TestRunValidationFailureFailFastByDefault(t *testing.T) {
	schema := NewJSONSchema(map[string]any{
		"type": "object",
		"required": []any{"name"},
	})
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 1, Schema: schema, FailOnValidationError: true}
	calls := 0
	var notified bool

	result, err := Run(context.Background(), policy, func(context.Context) (any, error) {
		calls++
		return map[string]any{}, nil
	}, Listener{OnValidationFailure: func(int, error) { notified = true }})

	require.NoError(t, err)
	assert.True(t, result.ValidationFailed)
	assert.Equal(t, 1, calls, "fail-fast must not retry past a validation failure")
	assert.True(t, notified)
}

func TestRunValidationFailureSoftRetriesWhenNotFailFast(t *testing.T) {
	schema := NewJSONSchema(map[string]any{
		"type": "object",
		"required": []any{"name"},
	})
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 1, Schema: schema, FailOnValidationError: false}
	calls := 0

	_, err := Run(context.Background(), policy, func(context.Context) (any, error) {
		calls++
		if calls < 2 {
			return map[string]any{}, nil // fails validation
		}
		return map[string]any{"name": "ok"}, nil
	}, Listener{})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunRespectsContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, BackoffMultiplier: 1}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, policy, func(context.Context) (any, error) {
		return nil, errors.New("always fails")
	}, Listener{})

	require.Error(t, err)
}

func TestRunThrottlesAttemptsThroughLimiter(t *testing.T) {
	policy := Policy{
		MaxAttempts: 3,
		InitialDelay: 0,
		BackoffMultiplier: 1,
		Limiter: rate.NewLimiter(rate.Every(20*time.Millisecond), 1),
	}

	calls := 0
	start := time.Now()
	_, err := Run(context.Background(), policy, func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, Listener{})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "the limiter must throttle the 2nd and 3rd attempts")
}

func TestRunLimiterCancellationSurfacesContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := Policy{MaxAttempts: 1, Limiter: rate.NewLimiter(rate.Every(time.Second), 1)}

	_, err := Run(ctx, policy, func(context.Context) (any, error) {
		return "ok", nil
	}, Listener{})

	require.Error(t, err)
}

func TestJSONSchemaValidateNestedObject(t *testing.T) {
	schema := NewJSONSchema(map[string]any{
		"type": "object",
		"required": []any{"status"},
		"properties": map[string]any{
			"status": map[string]any{"type": "string", "enum": []any{"ok", "error"}},
		},
	})

	assert.NoError(t, schema.Validate(map[string]any{"status": "ok"}))
	assert.Error(t, schema.Validate(map[string]any{"status": "unknown"}))
	assert.Error(t, schema.Validate(map[string]any{}))
}

func TestStepTimeoutReturnsTimeoutError(t *testing.T) {
	_, err := StepTimeout(context.Background(), "slow-step", 10*time.Millisecond, func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	require.Error(t, err)
	var timeoutErr *archerr.StepTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestStepTimeoutZeroMeansNoDeadline(t *testing.T) {
	result, err := StepTimeout(context.Background(), "fast-step", 0, func(context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}
