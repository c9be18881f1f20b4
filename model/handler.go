package model

import (
	"context"
	"fmt"

	"github.com/complyflow/orchestrator"
)

// Invoker is satisfied by both Client and Router.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// Handler is a step handler that performs one model invocation per step
// execution. The step's params supply the instruction template fields:
//
//	instruction: the prompt text (required)
//	max_tokens:  optional int
//	temperature: optional float
//
// The run's input and accumulated tool outputs are passed through as model
// input, and the response content and usage land in the step's tool output.
type Handler struct {
	name    string
	invoker Invoker
}

// NewHandler creates a model-invoking step handler under the given
// registered name.
func NewHandler(name string, invoker Invoker) *Handler {
	return &Handler{name: name, invoker: invoker}
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	instruction, _ := req.Params["instruction"].(string)
	if instruction == "" {
		return nil, orchestrator.ConfigurationError("step %q has no instruction param", req.Step.Name)
	}

	request := &Request{
		Model:       req.Step.Model,
		Instruction: instruction,
		Input: map[string]any{
			"input":   req.State.Input,
			"outputs": req.State.ToolOutputs,
		},
	}
	if maxTokens, ok := req.Params["max_tokens"].(int); ok {
		request.MaxTokens = maxTokens
	}
	if temperature, ok := req.Params["temperature"].(float64); ok {
		request.Temperature = float32(temperature)
	}

	response, err := h.invoker.Invoke(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}
	return &orchestrator.StepResult{
		Output: map[string]any{
			"model":   response.Model,
			"content": response.Content,
			"tokens":  response.Usage.TotalTokens,
		},
	}, nil
}
