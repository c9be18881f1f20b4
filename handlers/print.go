package handlers

import (
	"context"
	"fmt"

	"github.com/complyflow/orchestrator"
)

// PrintHandler writes a message to stdout.
type PrintHandler struct{}

func NewPrintHandler() *PrintHandler {
	return &PrintHandler{}
}

func (h *PrintHandler) Name() string {
	return "print"
}

func (h *PrintHandler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	message, ok := req.Params["message"]
	if !ok {
		return nil, fmt.Errorf("print handler requires a 'message' parameter")
	}
	fmt.Println(message)
	return &orchestrator.StepResult{
		Output: map[string]any{"printed": true},
	}, nil
}
