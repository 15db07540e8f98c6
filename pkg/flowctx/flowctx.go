// Package flowctx implements the run-wide ExecutionContext (// §3): the mutable bag a Flow Engine run threads through every step and
// tool invocation, grounded on pkg/workflow/workflow.go
// (Workflow.Metadata map) generalized to the spec's path-keyed model.
package flowctx

import (
	"sync"
)

// FlowState carries the owning flow's id and current status, mirrored
// into ExecutionContext so guard expressions and tool contexts can
// reference it without a back-reference to the engine.
type FlowState struct {
	FlowID string
	Status string
}

// ExecutionMetrics is the per-run metrics accumulator referenced by
// ExecutionContext and folded into FlowResult.
type ExecutionMetrics struct {
	mu sync.Mutex
	TokensUsed int64
	StepCount int
	RetryCount int
}

// AddTokens accumulates token usage.
func (m *ExecutionMetrics) AddTokens(n int64) {
	m.mu.Lock()
	m.TokensUsed += n
	m.mu.Unlock()
}

// IncrStep counts one completed step.
func (m *ExecutionMetrics) IncrStep() {
	m.mu.Lock()
	m.StepCount++
	m.mu.Unlock()
}

// AddRetries accumulates retry attempts across steps.
func (m *ExecutionMetrics) AddRetries(n int) {
	m.mu.Lock()
	m.RetryCount += n
	m.mu.Unlock()
}

// Snapshot returns a copy of the current metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ExecutionMetrics{TokensUsed: m.TokensUsed, StepCount: m.StepCount, RetryCount: m.RetryCount}
}

// Context is the per-run mutable bag calls ExecutionContext:
// a mapping from string paths ("step.<id>.output", "step.<id>.error", …)
// to values, an ExecutionMetrics accumulator, and a FlowState. Reads
// are unrestricted within the run. Step writes go through
// SetStepOutput and SetStepError, which write under whatever step id
// the caller names; Context does not track which step is executing and
// does not reject a write to another step's paths.
type Context struct {
	mu sync.RWMutex
	values map[string]any
	Metrics *ExecutionMetrics
	State FlowState
}

// New constructs an empty Context for the named flow.
func New(flowID string) *Context {
	return &Context{
		values: make(map[string]any),
		Metrics: &ExecutionMetrics{},
		State: FlowState{FlowID: flowID, Status: "running"},
	}
}

// Get reads a value at path. Reads are unrestricted within the run.
func (c *Context) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[path]
	return v, ok
}

// SetStepOutput writes the output value for stepID at
// "step.<stepID>.output".
func (c *Context) SetStepOutput(stepID string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values["step."+stepID+".output"] = output
}

// SetStepError records stepID's error at "step.<stepID>.error".
func (c *Context) SetStepError(stepID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		return
	}
	c.values["step."+stepID+".error"] = err.Error()
}

// SetInput seeds the run's "input" path with the value supplied when
// the run was started (POST /api/flows/{id}/run body is
// {input, params}). Guard expressions and steps read it back via
// Get("input").
func (c *Context) SetInput(input any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values["input"] = input
}

// SetParams seeds the run's "params" path alongside SetInput.
func (c *Context) SetParams(params any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values["params"] = params
}

// Snapshot returns a shallow copy of every path in the context, for
// guard-expression evaluation and debugging.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// SetStatus updates the FlowState's status (e.g. "running", "paused",
// "completed", "failed").
func (c *Context) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.State.Status = status
}
