// Package invoker implements archflow's Tool Invoker:
// the single entry point coupling the Execution Tracker, the
// Interceptor Chain, and a tool registry, grounded on
// pkg/workflow/executor.go (Executor.Execute splits dispatch, retry and
// tracking the same way).
package invoker

import (
	"context"

	"github.com/archflow/archflow/pkg/archerr"
	"github.com/archflow/archflow/pkg/execid"
	"github.com/archflow/archflow/pkg/flowctx"
	"github.com/archflow/archflow/pkg/interceptor"
	"github.com/archflow/archflow/pkg/tracker"
)

// Tool is the minimal callable surface the invoker dispatches to; it is
// intentionally narrower than pkg/tools.Tool so any registry shape can
// adapt into it.
type Tool func(ctx context.Context, input map[string]any) (any, error)

// Registry resolves a tool by name.
type Registry interface {
	Get(name string) (Tool, bool)
}

// MapRegistry is the simplest Registry: a plain name-to-Tool map.
type MapRegistry map[string]Tool

func (m MapRegistry) Get(name string) (Tool, bool) {
	t, ok := m[name]
	return t, ok
}

// Invoker couples a Tracker, an Interceptor Chain and a tool Registry
//. It is the only component that should call the
// tracker directly for tool execution.
type Invoker struct {
	tracker *tracker.Tracker
	chain *interceptor.Chain
	registry Registry
}

// NewInvoker constructs an Invoker.
func NewInvoker(tr *tracker.Tracker, chain *interceptor.Chain, registry Registry) *Invoker {
	return &Invoker{tracker: tr, chain: chain, registry: registry}
}

// Execute starts a new root tracked execution for toolName and
// dispatches it through the interceptor chain.
func (inv *Invoker) Execute(ctx context.Context, toolName string, input map[string]any, flow *flowctx.Context) (any, error) {
	id, err := inv.tracker.StartRoot(execid.KindTool)
	if err != nil {
		return nil, err
	}
	return inv.dispatch(ctx, id, toolName, input, flow)
}

// ExecuteChild starts a tracked child execution of parentID for
// toolName and dispatches it through the interceptor chain. Fails with
// ParentNotFoundError if parentID is unknown to the tracker.
func (inv *Invoker) ExecuteChild(ctx context.Context, parentID execid.Id, toolName string, input map[string]any, flow *flowctx.Context) (any, error) {
	id, err := inv.tracker.StartChild(parentID, execid.KindTool)
	if err != nil {
		return nil, err
	}
	return inv.dispatch(ctx, id, toolName, input, flow)
}

func (inv *Invoker) dispatch(ctx context.Context, id execid.Id, toolName string, input map[string]any, flow *flowctx.Context) (any, error) {
	tool, ok := inv.registry.Get(toolName)
	if !ok {
		err := &archerr.ToolNotFoundError{Name: toolName}
		inv.tracker.Fail(id, err)
		return nil, err
	}

	tc := interceptor.NewToolContext(id, toolName, input, flow)
	result, err := inv.chain.Execute(ctx, tc, func(ctx context.Context, tc *interceptor.ToolContext) (any, error) {
		return tool(ctx, tc.Input)
	})
	if err != nil {
		inv.tracker.Fail(id, err)
		return nil, err
	}

	inv.tracker.Complete(id, result)
	return result, nil
}
