// Package retry implements archflow's Strict Retry & Output Schema
// Validator: a bounded retry loop with exponential
// backoff and optional output-schema validation, grounded on the
// pkg/workflow/executor.go (executeWithRetry,
// RetryDefinition{MaxAttempts, BackoffBase, BackoffMultiplier}) and its
// select-on-ctx.Done()/time.After backoff-wait idiom.
package retry

import (
	"context"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"golang.org/x/time/rate"
)

// maxDelay is the hard cap on any single retry's backoff sleep:
// min(initialDelay × multiplier^(n-1), 30000 ms).
const maxDelay = 30 * time.Second

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int // >= 1
	InitialDelay time.Duration
	BackoffMultiplier float64 // >= 1.0
	Schema OutputSchema
	// FailOnValidationError short-circuits the retry loop the first
	// time OutputSchema validation fails rather than treating it as a
	// soft error to retry past. Defaults to true.
	FailOnValidationError bool
	// Limiter, if set, throttles attempts against it: Run waits for a
	// token before every attempt (including the first), preventing a
	// retry storm across many concurrent steps from hammering a
	// downstream dependency. Nil disables throttling.
	Limiter *rate.Limiter
}

// DefaultPolicy returns a single-attempt, no-backoff, no-validation
// policy (the trivial no-op case).
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 1, InitialDelay: 0, BackoffMultiplier: 1.0, FailOnValidationError: true}
}

// OutputSchema validates a thunk's successful result. A nil OutputSchema
// disables validation entirely.
type OutputSchema interface {
	Validate(result any) error
}

// Attempt records one execution attempt for RetryExhaustedError / Result.
type Attempt struct {
	Number int
	Err error
	Duration time.Duration
}

// Listener receives retry-loop lifecycle notifications. Every method is
// optional; a nil Listener disables notification.
type Listener struct {
	OnValidationFailure func(attempt int, err error)
	OnSuccess func(attempt int, result any)
	OnFailure func(attempt int, err error)
	OnExhausted func(attempts []Attempt)
}

// Result is returned by Run.
type Result struct {
	Value any
	Attempts []Attempt
	ValidationFailed bool
}

// Thunk is the operation Run retries.
type Thunk func(ctx context.Context) (any, error)

// Run executes thunk under policy, retrying on error with exponential
// backoff capped at maxDelay, and validating output via policy.Schema
// when configured.
func Run(ctx context.Context, policy Policy, thunk Thunk, listener Listener) (Result, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffMultiplier < 1.0 {
		policy.BackoffMultiplier = 1.0
	}

	var attempts []Attempt
	delay := policy.InitialDelay

	for n := 1; n <= policy.MaxAttempts; n++ {
		if policy.Limiter != nil {
			if werr := policy.Limiter.Wait(ctx); werr != nil {
				return Result{Attempts: attempts}, werr
			}
		}

		start := time.Now()
		value, err := thunk(ctx)
		duration := time.Since(start)

		if err == nil && policy.Schema != nil {
			if verr := policy.Schema.Validate(value); verr != nil {
				attempts = append(attempts, Attempt{Number: n, Err: verr, Duration: duration})
				if listener.OnValidationFailure != nil {
					listener.OnValidationFailure(n, verr)
				}
				if policy.FailOnValidationError {
					return Result{Attempts: attempts, ValidationFailed: true}, nil
				}
				err = verr // fall through to the retry path as a soft error
			}
		}

		if err == nil {
			attempts = append(attempts, Attempt{Number: n, Duration: duration})
			if listener.OnSuccess != nil {
				listener.OnSuccess(n, value)
			}
			return Result{Value: value, Attempts: attempts}, nil
		}

		attempts = append(attempts, Attempt{Number: n, Err: err, Duration: duration})
		if listener.OnFailure != nil {
			listener.OnFailure(n, err)
		}

		if n == policy.MaxAttempts {
			break
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		select {
		case <-ctx.Done():
			return Result{Attempts: attempts}, raiseExhausted(attempts, listener)
		case <-time.After(wait):
			delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
		}
	}

	return Result{Attempts: attempts}, raiseExhausted(attempts, listener)
}

func raiseExhausted(attempts []Attempt, listener Listener) error {
	if listener.OnExhausted != nil {
		listener.OnExhausted(attempts)
	}
	archAttempts := make([]archerr.Attempt, len(attempts))
	for i, a := range attempts {
		msg := ""
		if a.Err != nil {
			msg = a.Err.Error()
		}
		archAttempts[i] = archerr.Attempt{Number: a.Number, Err: msg, Duration: a.Duration.String()}
	}
	return &archerr.RetryExhaustedError{Attempts: archAttempts}
}

// StepTimeout wraps thunk with a deadline, converting context deadline
// exceeded into a StepTimeoutError named after stepID.
func StepTimeout(ctx context.Context, stepID string, timeout time.Duration, thunk Thunk) (any, error) {
	if timeout <= 0 {
		return thunk(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type outcome struct {
		value any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := thunk(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, &archerr.StepTimeoutError{StepID: stepID}
	}
}
