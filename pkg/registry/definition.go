// Package registry discovers and holds workflow definitions loaded
// from YAML files on disk (SPEC_FULL.md "Workflow registry discovery"
// supplement), keyed by declared workflow id. Grounded on the
// pkg/workflow/definition.go (YAML unmarshal, ApplyDefaults,
// Validate sequencing) generalized from the single-workflow
// Definition into a multi-file, glob-discovered collection, and on
// internal/connector/file/operations.go's doublestar glob usage.
package registry

import (
	"fmt"

	"github.com/archflow/archflow/pkg/flow"
	"github.com/archflow/archflow/pkg/mcpbroker"
	"gopkg.in/yaml.v3"
)

// ParamDefinition is one declared workflow input parameter, as written
// in a workflow YAML file's "parameters" block.
type ParamDefinition struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Description string `yaml:"description"`
	Required bool `yaml:"required"`
	Enum []string `yaml:"enum,omitempty"`
}

// StepDefinition is one node in a workflow YAML file's step graph.
type StepDefinition struct {
	ID string `yaml:"id"`
	Type string `yaml:"type"`
	Config map[string]any `yaml:"config"`
	Timeout int `yaml:"timeout"`
	Retry *RetryYAML `yaml:"retry,omitempty"`
}

// RetryYAML mirrors flow.RetryConfig in its YAML-facing shape.
type RetryYAML struct {
	MaxAttempts int `yaml:"max_attempts"`
	InitialDelayMS int `yaml:"initial_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// ConnectionYAML mirrors flow.Connection in its YAML-facing shape.
type ConnectionYAML struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Guard string `yaml:"guard,omitempty"`
	IsErrorPath bool `yaml:"is_error_path,omitempty"`
}

// WorkflowFile is the on-disk shape of one workflow YAML document.
type WorkflowFile struct {
	ID string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
	Description string `yaml:"description"`
	Entry string `yaml:"entry"`
	Parameters []ParamDefinition `yaml:"parameters,omitempty"`
	Steps []StepDefinition `yaml:"steps"`
	Connections []ConnectionYAML `yaml:"connections,omitempty"`
}

// ParseWorkflowFile parses and validates one workflow YAML document,
// grounded on ParseDefinition (unmarshal, then validate
// before the value is ever handed back to a caller).
func ParseWorkflowFile(data []byte) (*WorkflowFile, error) {
	var wf WorkflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("registry: parse workflow yaml: %w", err)
	}
	if err := wf.validate(); err != nil {
		return nil, fmt.Errorf("registry: invalid workflow definition: %w", err)
	}
	return &wf, nil
}

func (wf *WorkflowFile) validate() error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if wf.Entry == "" {
		return fmt.Errorf("workflow %s: entry step is required", wf.ID)
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", wf.ID)
	}
	seen := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %s: step missing id", wf.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("workflow %s: duplicate step id %q", wf.ID, s.ID)
		}
		seen[s.ID] = true
	}
	if !seen[wf.Entry] {
		return fmt.Errorf("workflow %s: entry %q does not name a declared step", wf.ID, wf.Entry)
	}
	return nil
}

// ToDefinition converts the on-disk workflow into a flow.Definition,
// the Flow Engine's runtime graph shape.
func (wf *WorkflowFile) ToDefinition() flow.Definition {
	steps := make([]flow.Step, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		step := flow.Step{ID: s.ID, Type: flow.StepType(s.Type), Config: s.Config, Timeout: s.Timeout}
		if s.Retry != nil {
			step.Retry = &flow.RetryConfig{
				MaxAttempts: s.Retry.MaxAttempts,
				InitialDelayMS: s.Retry.InitialDelayMS,
				BackoffMultiplier: s.Retry.BackoffMultiplier,
			}
		}
		steps = append(steps, step)
	}

	connections := make([]flow.Connection, 0, len(wf.Connections))
	for _, c := range wf.Connections {
		connections = append(connections, flow.Connection{
			Source: c.Source, Target: c.Target, Guard: c.Guard, IsErrorPath: c.IsErrorPath,
		})
	}

	return flow.NewDefinition(wf.ID, wf.Entry, steps, connections)
}

// ToWorkflowInfo converts the on-disk workflow into the shape the MCP
// Broker (pkg/mcpbroker) needs to expose it as a tool (// "tool.inputSchema is derived from declared parameters").
func (wf *WorkflowFile) ToWorkflowInfo() mcpbroker.WorkflowInfo {
	params := make([]mcpbroker.ParamSpec, 0, len(wf.Parameters))
	for _, p := range wf.Parameters {
		params = append(params, mcpbroker.ParamSpec{
			Name: p.Name, Type: p.Type, Description: p.Description, Required: p.Required, Enum: p.Enum,
		})
	}
	return mcpbroker.WorkflowInfo{ID: wf.ID, Name: wf.Name, Description: wf.Description, Parameters: params}
}
