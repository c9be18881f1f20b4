package handlers

import (
	"context"
	"time"

	"github.com/complyflow/orchestrator"
)

// TimeHandler reports the current time.
type TimeHandler struct{}

func NewTimeHandler() *TimeHandler {
	return &TimeHandler{}
}

func (h *TimeHandler) Name() string {
	return "time"
}

func (h *TimeHandler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	format := time.RFC3339
	if custom, ok := req.Params["format"].(string); ok && custom != "" {
		format = custom
	}
	now := time.Now()
	return &orchestrator.StepResult{
		Output: map[string]any{
			"time": now.Format(format),
			"unix": now.Unix(),
		},
	}, nil
}
