package orchestrator

import (
	"context"
)

// StepRequest carries everything a handler may read during one step
// execution. State is a snapshot copy; handlers communicate changes back
// through StepResult, never by mutating shared state directly.
type StepRequest struct {
	Step   *Step
	State  StateSnapshot
	Params map[string]any
}

// StepResult is a handler's contribution to the run. Output is merged into
// the state's tool outputs under the step name. Route, when set, overrides
// edge resolution and must name a declared successor of the step.
type StepResult struct {
	Output map[string]any
	Route  string
}

// StepHandler is a unit of work executable as a graph step.
type StepHandler interface {

	// Name returns the handler's registered name
	Name() string

	// Execute runs the handler for one step
	Execute(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// HandlerRegistry maps handler names to handlers
type HandlerRegistry map[string]StepHandler

// HandlerFunction adapts a function to the StepHandler interface
type HandlerFunction struct {
	name string
	fn   func(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// NewHandlerFunction creates a function-backed step handler
func NewHandlerFunction(name string, fn func(ctx context.Context, req *StepRequest) (*StepResult, error)) *HandlerFunction {
	return &HandlerFunction{name: name, fn: fn}
}

func (h *HandlerFunction) Name() string {
	return h.name
}

func (h *HandlerFunction) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return h.fn(ctx, req)
}
