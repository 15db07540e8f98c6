// Package interceptor implements archflow's Tool Interceptor Chain:
// an ordered before/after/onError middleware pipeline around tool
// execution, generalized from a single Interceptor interface
// (Intercept/PostExecute) into a sorted, stackable chain.
package interceptor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/execid"
	"github.com/archflow/archflow/pkg/flowctx"
)

// StartTimeAttr is the reserved ToolContext attribute key an
// interceptor may use to stash the invocation's start instant.
const StartTimeAttr = "_metrics.startTime"

// ToolContext carries everything an interceptor or executor needs for
// one tool invocation.
type ToolContext struct {
	ExecutionID execid.Id
	ToolName string
	Input map[string]any
	Flow *flowctx.Context

	Start time.Time
	End time.Time

	attrsMu sync.Mutex
	attrs map[string]any

	Result any
	Err error
	Cached bool
}

// NewToolContext constructs a ToolContext ready for dispatch.
func NewToolContext(id execid.Id, toolName string, input map[string]any, flow *flowctx.Context) *ToolContext {
	return &ToolContext{
		ExecutionID: id,
		ToolName: toolName,
		Input: input,
		Flow: flow,
		Start: time.Now(),
		attrs: make(map[string]any),
	}
}

// SetAttr stores an attribute under the concurrent attributes bag.
func (tc *ToolContext) SetAttr(key string, value any) {
	tc.attrsMu.Lock()
	defer tc.attrsMu.Unlock()
	tc.attrs[key] = value
}

// Attr retrieves an attribute.
func (tc *ToolContext) Attr(key string) (any, bool) {
	tc.attrsMu.Lock()
	defer tc.attrsMu.Unlock()
	v, ok := tc.attrs[key]
	return v, ok
}

// Interceptor is one stage of the chain. Name identifies it in logs and
// errors; Order determines position (ascending; ties preserve
// registration order).
type Interceptor interface {
	Name() string
	Order() int
	BeforeExecute(ctx context.Context, tc *ToolContext) error
	AfterExecute(ctx context.Context, tc *ToolContext, result any) (any, error)
	OnError(ctx context.Context, tc *ToolContext, err error) error
}

// Executor is the underlying tool call the chain wraps.
type Executor func(ctx context.Context, tc *ToolContext) (any, error)

// Chain holds a registration-ordered set of interceptors and dispatches
// invocations through them's four-step algorithm.
type Chain struct {
	mu sync.Mutex
	interceptors []Interceptor
}

// NewChain constructs an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// Use registers an interceptor. The chain is re-sorted ascending by
// Order with a stable sort, so interceptors of equal Order keep their
// registration order.
func (c *Chain) Use(i Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
	sort.SliceStable(c.interceptors, func(a, b int) bool {
		return c.interceptors[a].Order() < c.interceptors[b].Order()
	})
}

// ordered returns a snapshot of the current interceptor slice.
func (c *Chain) ordered() []Interceptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Interceptor, len(c.interceptors))
	copy(out, c.interceptors)
	return out
}

// Execute runs tc through beforeExecute (forward order), the executor,
// then afterExecute or onError (reverse order).
func (c *Chain) Execute(ctx context.Context, tc *ToolContext, exec Executor) (any, error) {
	chain := c.ordered()

	for _, i := range chain {
		if err := i.BeforeExecute(ctx, tc); err != nil {
			var halt *archerr.InterceptorHaltError
			if archerr.As(err, &halt) {
				tc.End = time.Now()
				return nil, err
			}
			tc.End = time.Now()
			return nil, archerr.Wrapf(err, "interceptor %q beforeExecute", i.Name())
		}
	}

	var result any
	var err error
	if tc.Cached {
		result = tc.Result
	} else {
		result, err = exec(ctx, tc)
	}
	tc.End = time.Now()

	if err != nil {
		tc.Err = err
		tc.Result = nil
		for j := len(chain) - 1; j >= 0; j-- {
			_ = chain[j].OnError(ctx, tc, err)
		}
		// An interceptor may swallow-and-recover by setting a result on
		// the context during OnError; otherwise the original error is
		// re-raised after the walk.
		if tc.Result != nil {
			return tc.Result, nil
		}
		return nil, err
	}

	tc.Result = result
	for j := len(chain) - 1; j >= 0; j-- {
		transformed, afterErr := chain[j].AfterExecute(ctx, tc, tc.Result)
		if afterErr != nil {
			return nil, archerr.Wrapf(afterErr, "interceptor %q afterExecute", chain[j].Name())
		}
		tc.Result = transformed
	}
	return tc.Result, nil
}
