package flow

// StepType names a step's execution kind. archflow steps are generic
// tool/agent/chain invocations dispatched through pkg/invoker; the
// Type field exists so a StepExecutor can branch on it without
// inspecting Config.
type StepType string

// Step is one node of a workflow graph ("Workflow — a
// directed graph. Nodes are Steps with an id, a type, a configuration
// map, and connections"), grounded on StepDefinition
// (pkg/workflow/definition.go) field shape, generalized from the
// nested-Steps/Condition sequential model into an explicit
// source/target Connection graph.
type Step struct {
	ID string
	Type StepType
	Config map[string]any
	Timeout int // seconds; 0 means engine default
	Retry *RetryConfig
}

// RetryConfig mirrors pkg/retry.Policy's shape ("Cached
// configurations ... value objects: max-attempts >= 1, initial-delay
// >= 0, backoff-multiplier >= 1.0").
type RetryConfig struct {
	MaxAttempts int
	InitialDelayMS int
	BackoffMultiplier float64
}

// Connection is a directed edge between two steps.
// Guard is an expr-lang/expr boolean expression; empty means
// unconditional. IsErrorPath marks an edge only taken when Source
// fails.
type Connection struct {
	Source string
	Target string
	Guard string
	IsErrorPath bool
}

// Definition is a complete workflow graph: its steps, connections, and
// declared entry point.
type Definition struct {
	ID string
	Entry string
	Steps map[string]Step
	Connections []Connection
}

// NewDefinition builds a Definition from a step list and connection
// list, indexing steps by ID.
func NewDefinition(id, entry string, steps []Step, connections []Connection) Definition {
	index := make(map[string]Step, len(steps))
	for _, s := range steps {
		index[s.ID] = s
	}
	return Definition{ID: id, Entry: entry, Steps: index, Connections: connections}
}

// outgoing returns every connection whose Source is stepID, in
// declaration order.
func (d Definition) outgoing(stepID string) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.Source == stepID {
			out = append(out, c)
		}
	}
	return out
}
