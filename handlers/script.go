package handlers

import (
	"context"
	"fmt"

	"github.com/complyflow/orchestrator"
	"github.com/complyflow/orchestrator/script"
)

// ScriptHandler evaluates a Risor expression against the run's state. The
// expression sees the same globals as edge conditions plus its own params.
type ScriptHandler struct {
	compiler script.Compiler
}

func NewScriptHandler() *ScriptHandler {
	return &ScriptHandler{compiler: script.NewRisorCompiler(nil)}
}

func (h *ScriptHandler) Name() string {
	return "script"
}

func (h *ScriptHandler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	code, ok := req.Params["code"].(string)
	if !ok || code == "" {
		return nil, fmt.Errorf("script handler requires a 'code' parameter")
	}

	compiled, err := h.compiler.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	globals := map[string]any{
		"input":        req.State.Input,
		"outputs":      req.State.ToolOutputs,
		"history":      req.State.StepHistory,
		"retry_count":  req.State.RetryCount,
		"current_step": req.State.CurrentStep,
	}
	value, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return &orchestrator.StepResult{
		Output: map[string]any{"result": value.Value()},
	}, nil
}
