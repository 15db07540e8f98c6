package flow

import "github.com/archflow/archflow/pkg/archerr"

// validateGraph performs schedule-time graph-validity checks, run once
// before a flow starts rather than lazily during execution: every
// connection must reference existing steps (BrokenGraph), and a step
// must not be able to re-enter itself through a cycle of unconditional
// (guard-free) connections (CyclicStep). Reaching every step from the
// entry is not required — guard expressions can legitimately leave
// branches unreached for a given input.
func validateGraph(def Definition) error {
	if _, ok := def.Steps[def.Entry]; !ok {
		return &archerr.BrokenGraphError{StepID: def.Entry, Target: def.Entry}
	}

	for _, c := range def.Connections {
		if _, ok := def.Steps[c.Source]; !ok {
			return &archerr.BrokenGraphError{StepID: c.Source, Target: c.Target}
		}
		if _, ok := def.Steps[c.Target]; !ok {
			return &archerr.BrokenGraphError{StepID: c.Source, Target: c.Target}
		}
	}

	return detectCycles(def)
}

// detectCycles walks the graph depth-first over unconditional
// (guard-free) connections only, rejecting a step that would re-enter
// itself ("a step that would re-enter itself with
// identical ctx projection is rejected as CyclicStep before
// scheduling. Loops must be modelled with an explicit iteration
// counter in ctx"). A guarded back-edge is excluded from this walk: it
// is the sanctioned way to model a loop (an explicit iteration counter
// in ctx drives the guard false to terminate it), so it must not be
// rejected as a structural cycle at schedule time.
func detectCycles(def Definition) error {
	const (
		unvisited = 0
		visiting = 1
		done = 2
	)
	state := make(map[string]int, len(def.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return &archerr.CyclicStepError{StepID: id}
		case done:
			return nil
		}
		state[id] = visiting
		for _, c := range def.outgoing(id) {
			if c.Guard != "" {
				continue
			}
			if err := visit(c.Target); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for id := range def.Steps {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
