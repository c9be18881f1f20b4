package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/complyflow/orchestrator"
)

// WaitHandler pauses the run for a configured duration.
type WaitHandler struct{}

func NewWaitHandler() *WaitHandler {
	return &WaitHandler{}
}

func (h *WaitHandler) Name() string {
	return "wait"
}

func (h *WaitHandler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	raw, ok := req.Params["duration"]
	if !ok {
		return nil, fmt.Errorf("wait handler requires a 'duration' parameter")
	}

	var duration time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration format: %w", err)
		}
		duration = parsed
	case float64:
		// Seconds as a number
		duration = time.Duration(v * float64(time.Second))
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return nil, fmt.Errorf("duration must be a string or a number of seconds")
	}

	if duration > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(duration):
		}
	}
	return &orchestrator.StepResult{
		Output: map[string]any{"waited": duration.String()},
	}, nil
}
