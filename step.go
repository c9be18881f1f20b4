package orchestrator

// StepTerminal is the reserved terminal marker. CurrentStep holds it once a
// run reaches a terminal state; it is never a valid declared step name.
const StepTerminal = "__terminal__"

// Edge declares a conditional transition out of a step. Condition is a Risor
// expression evaluated against the run state; an empty condition always
// matches. The first matching edge in declaration order wins.
type Edge struct {
	Step      string `json:"step" yaml:"step"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Step is a named unit of work in the workflow graph. A step executes a
// registered handler and declares its valid successors as an explicit edge
// table, validated at graph construction time.
type Step struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Handler     string         `json:"handler" yaml:"handler"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Model names the AI model this step calls, if any. The engine consults
	// the health tracker before executing a model step and diverts to
	// Fallback when the model's circuit is open.
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Emit marks the step's output for incremental forwarding when the run
	// is driven by a streaming emitter.
	Emit bool `json:"emit,omitempty" yaml:"emit,omitempty"`

	Next []*Edge `json:"next,omitempty" yaml:"next,omitempty"`
	End  bool    `json:"end,omitempty" yaml:"end,omitempty"`
}

// IsModelCall reports whether the step performs an AI model invocation
func (s *Step) IsModelCall() bool {
	return s.Model != ""
}
