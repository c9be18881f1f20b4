package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/complyflow/orchestrator/breaker"
)

// DefaultMaxRetries caps recovery attempts within a single run.
const DefaultMaxRetries = 3

// DefaultSaveRetries bounds checkpoint write retries before a run is
// escalated to a fatal persistence failure.
const DefaultSaveRetries = 3

// EngineOptions configures an Engine.
type EngineOptions struct {
	Graph    *Graph
	Handlers []StepHandler
	Store    CheckpointStore
	Tracker  *breaker.Tracker
	Logger   *slog.Logger

	// MaxRetries caps WorkflowState.RetryCount. Exceeding it forces terminal
	// failure. Defaults to DefaultMaxRetries.
	MaxRetries int

	// SaveRetries bounds checkpoint save attempts per step. Defaults to
	// DefaultSaveRetries.
	SaveRetries int

	// StepTimeout, when positive, bounds each handler execution. A timeout
	// is treated as a step failure; it never corrupts the last checkpoint.
	StepTimeout time.Duration

	Callbacks RunCallbacks
}

// Engine executes workflow graphs over checkpointed state. A single engine
// serves many concurrent runs for different threads; a defensive per-thread
// gate ensures at most one live run per thread identifier.
type Engine struct {
	graph       *Graph
	handlers    HandlerRegistry
	store       CheckpointStore
	tracker     *breaker.Tracker
	logger      *slog.Logger
	maxRetries  int
	saveRetries int
	stepTimeout time.Duration
	callbacks   RunCallbacks

	mutex         sync.Mutex
	activeThreads map[string]struct{}
}

// NewEngine creates an engine for the given graph. Every handler referenced
// by a graph step must be registered, which is checked here so missing
// handlers surface before any run starts.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if len(opts.Handlers) == 0 {
		return nil, fmt.Errorf("handlers are required")
	}
	if opts.Store == nil {
		opts.Store = NewMemoryCheckpointStore()
	}
	if opts.Tracker == nil {
		opts.Tracker = breaker.NewTracker(breaker.DefaultConfig())
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.SaveRetries <= 0 {
		opts.SaveRetries = DefaultSaveRetries
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseRunCallbacks{}
	}

	handlers := make(HandlerRegistry, len(opts.Handlers))
	for _, handler := range opts.Handlers {
		handlers[handler.Name()] = handler
	}
	for _, step := range opts.Graph.Steps() {
		if _, ok := handlers[step.Handler]; !ok {
			return nil, fmt.Errorf("step %q references unregistered handler %q", step.Name, step.Handler)
		}
	}

	return &Engine{
		graph:         opts.Graph,
		handlers:      handlers,
		store:         opts.Store,
		tracker:       opts.Tracker,
		logger:        opts.Logger,
		maxRetries:    opts.MaxRetries,
		saveRetries:   opts.SaveRetries,
		stepTimeout:   opts.StepTimeout,
		callbacks:     opts.Callbacks,
		activeThreads: map[string]struct{}{},
	}, nil
}

// Graph returns the engine's graph
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Store returns the engine's checkpoint store
func (e *Engine) Store() CheckpointStore {
	return e.store
}

// Tracker returns the engine's model health tracker
func (e *Engine) Tracker() *breaker.Tracker {
	return e.tracker
}

// Run executes a thread to completion, resuming from the latest checkpoint
// when one exists. It returns the final state together with a structured
// error for terminal failures; transient failures recovered inside the run
// never escape.
func (e *Engine) Run(ctx context.Context, threadID string, input map[string]any) (*WorkflowState, error) {
	run, err := e.NewRun(ctx, threadID, input)
	if err != nil {
		return nil, err
	}
	defer run.Close()

	for {
		done, err := run.Step(ctx)
		if done || err != nil {
			return run.State(), err
		}
	}
}

// acquireThread claims the per-thread single-writer gate
func (e *Engine) acquireThread(threadID string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if _, active := e.activeThreads[threadID]; active {
		return fmt.Errorf("thread %q already has an active run", threadID)
	}
	e.activeThreads[threadID] = struct{}{}
	return nil
}

// releaseThread releases the per-thread gate
func (e *Engine) releaseThread(threadID string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.activeThreads, threadID)
}

// Status reports a thread's run status from its latest checkpoint. Threads
// with no checkpoint are not started.
func (e *Engine) Status(ctx context.Context, threadID string) (RunStatus, error) {
	checkpoint, err := e.store.LoadLatest(ctx, threadID)
	if errors.Is(err, ErrNoCheckpoint) {
		return RunStatusNotStarted, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load checkpoint for status: %w", err)
	}
	switch {
	case checkpoint.State.Completed && checkpoint.State.Failed:
		return RunStatusFailed, nil
	case checkpoint.State.Completed:
		return RunStatusCompleted, nil
	default:
		return RunStatusRunning, nil
	}
}
