package handlers

import (
	"context"
	"fmt"

	"github.com/complyflow/orchestrator"
)

// FailHandler always returns an error. Used to exercise retry and fallback
// paths from graph definitions.
type FailHandler struct{}

func NewFailHandler() *FailHandler {
	return &FailHandler{}
}

func (h *FailHandler) Name() string {
	return "fail"
}

func (h *FailHandler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	message, _ := req.Params["message"].(string)
	if message == "" {
		message = "intentional failure"
	}
	return nil, fmt.Errorf("fail handler: %s", message)
}
