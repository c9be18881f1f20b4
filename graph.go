package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/complyflow/orchestrator/script"
)

// Options are used to configure a graph.
type Options struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []*Step `json:"steps" yaml:"steps"`

	// Compiler compiles edge conditions. Defaults to the Risor compiler.
	Compiler script.Compiler `json:"-" yaml:"-"`
}

// Graph defines a directed graph of named steps with conditional transitions.
// The edge table is validated eagerly: every declared target must be a
// declared step, so configuration mistakes surface at construction time
// rather than mid-run.
type Graph struct {
	name        string
	description string
	steps       []*Step
	stepsByName map[string]*Step
	start       *Step
	compiler    script.Compiler
	conditions  map[string]script.Script
}

// New returns a new Graph configured with the given options.
func New(opts Options) (*Graph, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("graph name required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("steps required")
	}
	if opts.Compiler == nil {
		opts.Compiler = script.NewRisorCompiler(nil)
	}

	stepsByName := make(map[string]*Step, len(opts.Steps))
	for _, step := range opts.Steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step name required")
		}
		if step.Name == StepTerminal {
			return nil, fmt.Errorf("step name %q is reserved", StepTerminal)
		}
		if _, exists := stepsByName[step.Name]; exists {
			return nil, fmt.Errorf("duplicate step name %q", step.Name)
		}
		stepsByName[step.Name] = step
	}

	g := &Graph{
		name:        opts.Name,
		description: opts.Description,
		steps:       opts.Steps,
		stepsByName: stepsByName,
		start:       opts.Steps[0],
		compiler:    opts.Compiler,
		conditions:  map[string]script.Script{},
	}
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}
	if err := g.compileConditions(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate checks the step edge table for undeclared targets
func (g *Graph) validate() error {
	for _, step := range g.steps {
		if step.Handler == "" {
			return fmt.Errorf("step %q has no handler", step.Name)
		}
		for _, edge := range step.Next {
			if _, ok := g.stepsByName[edge.Step]; !ok {
				return fmt.Errorf("step %q has edge to undeclared step %q", step.Name, edge.Step)
			}
		}
		if step.Fallback != "" {
			if _, ok := g.stepsByName[step.Fallback]; !ok {
				return fmt.Errorf("step %q has undeclared fallback step %q", step.Name, step.Fallback)
			}
		}
		if !step.End && len(step.Next) == 0 {
			return fmt.Errorf("step %q has no outgoing edges and is not an end step", step.Name)
		}
	}
	return nil
}

// compileConditions compiles every edge condition so syntax errors surface
// at construction time
func (g *Graph) compileConditions() error {
	ctx := context.Background()
	for _, step := range g.steps {
		for i, edge := range step.Next {
			if edge.Condition == "" {
				continue
			}
			compiled, err := g.compiler.Compile(ctx, edge.Condition)
			if err != nil {
				return fmt.Errorf("step %q edge %d: %w", step.Name, i, err)
			}
			g.conditions[conditionKey(step.Name, i)] = compiled
		}
	}
	return nil
}

func conditionKey(stepName string, edgeIndex int) string {
	return fmt.Sprintf("%s#%d", stepName, edgeIndex)
}

// Name returns the graph name
func (g *Graph) Name() string {
	return g.name
}

// Description returns the graph description
func (g *Graph) Description() string {
	return g.description
}

// Steps returns the graph steps
func (g *Graph) Steps() []*Step {
	return g.steps
}

// Start returns the graph entry step
func (g *Graph) Start() *Step {
	return g.start
}

// GetStep returns a step by name
func (g *Graph) GetStep(name string) (*Step, bool) {
	step, ok := g.stepsByName[name]
	return step, ok
}

// StepNames returns the names of all steps in the graph, sorted
func (g *Graph) StepNames() []string {
	names := make([]string, 0, len(g.stepsByName))
	for name := range g.stepsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextStep resolves the successor of a step against the run state. It
// returns StepTerminal when the step is an end step or no edge matches on
// an end-capable step.
func (g *Graph) NextStep(ctx context.Context, step *Step, state *WorkflowState) (string, error) {
	for i, edge := range step.Next {
		if edge.Condition == "" {
			return edge.Step, nil
		}
		compiled, ok := g.conditions[conditionKey(step.Name, i)]
		if !ok {
			return "", ConfigurationError("missing compiled condition for step %q edge %d", step.Name, i)
		}
		value, err := compiled.Evaluate(ctx, conditionGlobals(state))
		if err != nil {
			return "", ConfigurationError("condition evaluation failed for step %q edge %d: %v", step.Name, i, err)
		}
		if value.IsTruthy() {
			return edge.Step, nil
		}
	}
	if step.End || len(step.Next) == 0 {
		return StepTerminal, nil
	}
	return "", ConfigurationError("no edge matched out of step %q and step is not terminal", step.Name)
}

// conditionGlobals exposes run state to condition expressions
func conditionGlobals(state *WorkflowState) map[string]any {
	snapshot := state.Snapshot()
	errs := make([]any, len(snapshot.Errors))
	for i, record := range snapshot.Errors {
		errs[i] = map[string]any{
			"step":    record.Step,
			"type":    record.Type,
			"cause":   record.Cause,
			"attempt": record.Attempt,
		}
	}
	history := make([]any, len(snapshot.StepHistory))
	for i, name := range snapshot.StepHistory {
		history[i] = name
	}
	return map[string]any{
		"input":        snapshot.Input,
		"outputs":      snapshot.ToolOutputs,
		"history":      history,
		"errors":       errs,
		"retry_count":  snapshot.RetryCount,
		"current_step": snapshot.CurrentStep,
		"completed":    snapshot.Completed,
		"failed":       snapshot.Failed,
	}
}

// LoadFile loads a graph definition from a YAML file
func LoadFile(path string) (*Graph, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a graph definition from a YAML string
func LoadString(data string) (*Graph, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph definition: %w", err)
	}
	return New(opts)
}
