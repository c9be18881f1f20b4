package orchestrator

import (
	"context"
	"time"
)

// RunCallbacks defines the callback interface for step execution events.
// The streaming emitter and tests observe runs through this interface.
type RunCallbacks interface {
	BeforeStep(ctx context.Context, event *StepEvent)
	AfterStep(ctx context.Context, event *StepEvent)
}

// StepEvent provides context for step-level execution events
type StepEvent struct {
	ThreadID  string
	GraphName string
	StepName  string
	StartTime time.Time
	EndTime   time.Time
	Output    map[string]any
	Error     error
}

// BaseRunCallbacks provides a default implementation that does nothing
type BaseRunCallbacks struct{}

func (n *BaseRunCallbacks) BeforeStep(ctx context.Context, event *StepEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterStep(ctx context.Context, event *StepEvent) {
	// noop
}
