// Package service is the external contract of the orchestration core: the
// surface an HTTP layer calls. It composes admission control, the workflow
// engine, the streaming emitter, and the model health registry behind a
// small request/response API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/complyflow/orchestrator"
	"github.com/complyflow/orchestrator/breaker"
	"github.com/complyflow/orchestrator/quota"
	"github.com/complyflow/orchestrator/stream"
)

// ErrThrottled is returned when the quota guard denies admission. Callers
// surface it as a throttling status; nothing is queued or delayed.
var ErrThrottled = errors.New("request rate limit exceeded")

// Request is one invocation of the orchestration core.
type Request struct {
	// Category is the operation category for admission control, for
	// example "assistance" or "analysis".
	Category string `json:"category"`

	// CallerID identifies the caller for per-caller quota accounting
	CallerID string `json:"caller_id"`

	// ThreadID resumes an existing thread when set; empty starts fresh.
	ThreadID string `json:"thread_id,omitempty"`

	Input map[string]any `json:"input,omitempty"`
}

// Response is the synchronous invocation result.
type Response struct {
	ThreadID  string         `json:"thread_id"`
	Result    map[string]any `json:"result"`
	Completed bool           `json:"completed"`
}

// StatusReport describes a thread's progress.
type StatusReport struct {
	ThreadID string                 `json:"thread_id"`
	Status   orchestrator.RunStatus `json:"status"`
	Progress Progress               `json:"progress"`
}

// Progress summarizes how far a run has advanced.
type Progress struct {
	CurrentStep    string `json:"current_step,omitempty"`
	StepsCompleted int    `json:"steps_completed"`
	Retries        int    `json:"retries"`
}

// Options configures a Service.
type Options struct {
	Engine *orchestrator.Engine
	Guard  *quota.Guard
	Logger *slog.Logger

	// StreamBuffer overrides the emitter's frame channel capacity
	StreamBuffer int
}

// Service fronts the engine for synchronous, streaming, status, and admin
// operations.
type Service struct {
	engine  *orchestrator.Engine
	guard   *quota.Guard
	emitter *stream.Emitter
	logger  *slog.Logger
}

// New creates a service. Engine and Guard are required.
func New(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Guard == nil {
		return nil, errors.New("quota guard is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	emitter := stream.NewEmitter(opts.Engine, opts.Logger)
	emitter.Buffer = opts.StreamBuffer
	return &Service{
		engine:  opts.Engine,
		guard:   opts.Guard,
		emitter: emitter,
		logger:  opts.Logger,
	}, nil
}

// Invoke runs a thread to completion and returns the merged step outputs.
// A run that ends in terminal failure returns the classified error; the
// checkpointed state still records the failure marker.
func (s *Service) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := s.admit(req); err != nil {
		return nil, err
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = orchestrator.NewThreadID()
	}
	s.logger.Info("invoking workflow",
		"category", req.Category,
		"caller_id", req.CallerID,
		"thread_id", threadID)

	state, err := s.engine.Run(ctx, threadID, req.Input)
	if err != nil {
		return nil, err
	}
	return &Response{
		ThreadID:  state.ThreadID(),
		Result:    state.ToolOutputs(),
		Completed: state.Completed(),
	}, nil
}

// Stream starts or resumes a run and returns its frame sequence. Admission
// and resume errors surface before any frame is sent.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan stream.Frame, error) {
	if err := s.admit(req); err != nil {
		return nil, err
	}
	s.logger.Info("streaming workflow",
		"category", req.Category,
		"caller_id", req.CallerID,
		"thread_id", req.ThreadID)
	return s.emitter.Emit(ctx, req.ThreadID, req.Input)
}

// Status reports a thread's lifecycle phase and progress from its latest
// checkpoint.
func (s *Service) Status(ctx context.Context, threadID string) (*StatusReport, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	checkpoint, err := s.engine.Store().LoadLatest(ctx, threadID)
	if errors.Is(err, orchestrator.ErrNoCheckpoint) {
		return &StatusReport{ThreadID: threadID, Status: orchestrator.RunStatusNotStarted}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status for thread %s: %w", threadID, err)
	}
	summary := checkpoint.Summary()
	return &StatusReport{
		ThreadID: threadID,
		Status:   summary.Status,
		Progress: Progress{
			CurrentStep:    checkpoint.State.CurrentStep,
			StepsCompleted: len(checkpoint.State.StepHistory),
			Retries:        checkpoint.State.RetryCount,
		},
	}, nil
}

// ForceReset is the operator override that closes a model's circuit
// immediately, bypassing cooldown.
func (s *Service) ForceReset(modelID string) {
	s.logger.Warn("force-resetting model circuit", "model", modelID)
	s.engine.Tracker().ForceReset(modelID)
}

// ModelStates reports every tracked model circuit for operator inspection.
func (s *Service) ModelStates() map[string]breaker.Snapshot {
	return s.engine.Tracker().AllStates()
}

func (s *Service) admit(req Request) error {
	if req.Category == "" {
		return errors.New("operation category is required")
	}
	if !s.guard.TryAdmit(req.Category, req.CallerID) {
		s.logger.Warn("request throttled",
			"category", req.Category,
			"caller_id", req.CallerID)
		return ErrThrottled
	}
	return nil
}
