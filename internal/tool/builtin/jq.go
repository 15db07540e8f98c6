// Package builtin implements archflow's built-in tools: the handful of
// generic tool names every agent can dispatch through pkg/invoker
// without declaring an external ModelAdapter/VectorStore collaborator.
// Grounded on the internal/jq (Executor) and
// internal/action/transform (the jq-as-a-step-transform idiom), shaped
// here as a pkg/invoker.Tool so it plugs straight into an
// invoker.MapRegistry.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

// DefaultTimeout bounds a single jq evaluation.
const DefaultTimeout = 1 * time.Second

// DefaultMaxInputSize bounds the JSON-marshaled size of jq's input.
const DefaultMaxInputSize = 10 * 1024 * 1024

// JQTransform implements the "jq" tool: {expression, input} -> the jq
// query's result. A single result value is returned directly; multiple
// results (a jq expression producing a stream) are returned as a slice.
type JQTransform struct {
	Timeout time.Duration
	MaxInputSize int64
}

// NewJQTransform builds a JQTransform with the package defaults.
func NewJQTransform() *JQTransform {
	return &JQTransform{Timeout: DefaultTimeout, MaxInputSize: DefaultMaxInputSize}
}

// Execute is the tool body: invoker.Tool's shape.
func (j *JQTransform) Execute(ctx context.Context, input map[string]any) (any, error) {
	expression, _ := input["expression"].(string)
	data := input["input"]
	if expression == "" {
		return data, nil
	}

	timeout := j.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxInputSize := j.MaxInputSize
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("builtin/jq: marshal input: %w", err)
	}
	if int64(len(encoded)) > maxInputSize {
		return nil, fmt.Errorf("builtin/jq: input size (%d bytes) exceeds maximum (%d bytes)", len(encoded), maxInputSize)
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("builtin/jq: parse expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("builtin/jq: compile expression: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		iter := code.Run(data)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, fmt.Errorf("builtin/jq: %w", err)
	case <-execCtx.Done():
		return nil, fmt.Errorf("builtin/jq: execution timeout after %v", timeout)
	}
}

// Validate compiles expression without running it, for validating a
// workflow's step config at load time (before any run reaches it).
func Validate(expression string) error {
	if expression == "" {
		return nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return fmt.Errorf("builtin/jq: invalid expression: %w", err)
	}
	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("builtin/jq: compile failed: %w", err)
	}
	return nil
}
