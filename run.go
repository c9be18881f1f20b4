package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/complyflow/orchestrator/retry"
)

// Run is a single thread's execution over the engine's graph. Callers either
// drive it to completion via Engine.Run or step it manually for streaming.
// A Run is not safe for concurrent use; the engine's per-thread gate ensures
// there is at most one live Run per thread.
type Run struct {
	engine  *Engine
	state   *WorkflowState
	resumed bool
	closed  bool
}

// NewRun prepares a run for a thread. When the thread has a checkpoint, the
// run resumes from it: execution begins at the recorded current step with
// the loaded state, never replaying completed steps. Otherwise a fresh
// state is created at the graph's entry step.
func (e *Engine) NewRun(ctx context.Context, threadID string, input map[string]any) (*Run, error) {
	if threadID == "" {
		threadID = NewThreadID()
	}
	if err := e.acquireThread(threadID); err != nil {
		return nil, err
	}

	checkpoint, err := e.store.LoadLatest(ctx, threadID)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		state := NewWorkflowState(threadID, e.graph.Start().Name, input)
		e.logger.Info("starting new run",
			"thread_id", threadID,
			"graph", e.graph.Name(),
			"start_step", e.graph.Start().Name)
		return &Run{engine: e, state: state}, nil
	case err != nil:
		e.releaseThread(threadID)
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	state := RestoreState(checkpoint.State)
	e.logger.Info("resuming run from checkpoint",
		"thread_id", threadID,
		"sequence", checkpoint.Sequence,
		"current_step", state.CurrentStep(),
		"completed", state.Completed())
	return &Run{engine: e, state: state, resumed: true}, nil
}

// State returns the run's workflow state
func (r *Run) State() *WorkflowState {
	return r.state
}

// Resumed reports whether the run was restored from a checkpoint
func (r *Run) Resumed() bool {
	return r.resumed
}

// Close releases the run's thread gate. Safe to call more than once.
func (r *Run) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.engine.releaseThread(r.state.ThreadID())
}

// Step executes exactly one step transition: breaker admission, handler
// execution, history append and output merge, checkpoint write, successor
// resolution. It returns done=true once the run is terminal. Terminal
// failures are returned as a *WorkflowError; the error is also recorded in
// state so callers polling status see the failure marker.
func (r *Run) Step(ctx context.Context) (bool, error) {
	engine := r.engine
	state := r.state

	if state.Completed() {
		return true, r.terminalError()
	}

	stepName := state.CurrentStep()
	if stepName == StepTerminal {
		// Reached the terminal marker without a completed flag; close out.
		state.SetCompleted(false)
		return true, r.checkpoint(ctx)
	}

	step, ok := engine.graph.GetStep(stepName)
	if !ok {
		return true, r.failTerminally(ctx, ConfigurationError("current step %q not declared in graph", stepName))
	}

	// Admission: a model step whose circuit is open diverts to its fallback
	// instead of executing. The divert is not a failure; the run degrades.
	if step.IsModelCall() && !engine.tracker.Available(step.Model) {
		if step.Fallback != "" {
			engine.logger.Warn("model unavailable, diverting to fallback step",
				"thread_id", state.ThreadID(),
				"step", step.Name,
				"model", step.Model,
				"fallback", step.Fallback)
			state.SetCurrentStep(step.Fallback)
			if err := r.checkpoint(ctx); err != nil {
				return true, r.failTerminally(ctx, ClassifyError(err))
			}
			return false, nil
		}
		// No fallback declared: surface as a recoverable failure.
		unavailable := &WorkflowError{
			Type:  ErrorTypeModelUnavailable,
			Step:  step.Name,
			Cause: fmt.Sprintf("model %q circuit is open and step has no fallback", step.Model),
		}
		return r.handleFailure(ctx, step, unavailable)
	}

	output, err := r.executeHandler(ctx, step)
	if step.IsModelCall() {
		engine.tracker.RecordOutcome(step.Model, err == nil)
	}
	if err != nil {
		return r.handleFailure(ctx, step, err)
	}

	state.AppendHistory(step.Name)
	if output != nil && output.Output != nil {
		state.MergeOutputs(map[string]any{step.Name: output.Output})
	}

	next, routeErr := r.resolveNext(ctx, step, output)
	if routeErr != nil {
		return true, r.failTerminally(ctx, ClassifyError(routeErr))
	}
	state.SetCurrentStep(next)
	if next == StepTerminal {
		state.SetCompleted(false)
	}

	if err := r.checkpoint(ctx); err != nil {
		return true, r.failTerminally(ctx, ClassifyError(err))
	}
	return state.Completed(), nil
}

// executeHandler runs the step handler with the optional per-step timeout
// and panic recovery. A panic becomes an ordinary step failure rather than
// escaping the run.
func (r *Run) executeHandler(ctx context.Context, step *Step) (result *StepResult, err error) {
	engine := r.engine
	handler, ok := engine.handlers[step.Handler]
	if !ok {
		return nil, ConfigurationError("handler %q not registered", step.Handler)
	}

	stepCtx := ctx
	if engine.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, engine.stepTimeout)
		defer cancel()
	}

	request := &StepRequest{
		Step:   step,
		State:  r.state.Snapshot(),
		Params: step.Params,
	}
	engine.callbacks.BeforeStep(stepCtx, &StepEvent{
		ThreadID:  r.state.ThreadID(),
		GraphName: engine.graph.Name(),
		StepName:  step.Name,
		StartTime: time.Now(),
	})

	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("handler %q panicked: %v", step.Handler, recovered)
		}
		event := &StepEvent{
			ThreadID:  r.state.ThreadID(),
			GraphName: engine.graph.Name(),
			StepName:  step.Name,
			StartTime: start,
			EndTime:   time.Now(),
			Error:     err,
		}
		if result != nil {
			event.Output = result.Output
		}
		engine.callbacks.AfterStep(ctx, event)
	}()

	result, err = handler.Execute(stepCtx, request)
	return result, err
}

// resolveNext determines the successor step. A handler route override must
// name a declared successor; anything else is a configuration error and the
// engine must not silently continue.
func (r *Run) resolveNext(ctx context.Context, step *Step, result *StepResult) (string, error) {
	if result != nil && result.Route != "" {
		if result.Route == StepTerminal {
			return StepTerminal, nil
		}
		for _, edge := range step.Next {
			if edge.Step == result.Route {
				return result.Route, nil
			}
		}
		if step.Fallback == result.Route {
			return result.Route, nil
		}
		return "", ConfigurationError("handler for step %q routed to undeclared step %q", step.Name, result.Route)
	}
	return r.engine.graph.NextStep(ctx, step, r.state)
}

// handleFailure applies the engine's error policy: classify, record, then
// either retry from the failed step or terminate once the retry cap is
// exceeded. Fatal classifications terminate immediately.
func (r *Run) handleFailure(ctx context.Context, step *Step, err error) (bool, error) {
	engine := r.engine
	state := r.state
	classified := ClassifyError(err)
	if classified.Step == "" {
		classified.Step = step.Name
	}

	attempt := state.RetryCount() + 1
	state.AppendError(classified.ToRecord(step.Name, attempt, time.Now().UnixNano()))

	if IsFatal(classified) {
		return true, r.failTerminally(ctx, classified)
	}

	// The cap is checked before incrementing so RetryCount never exceeds
	// the configured maximum.
	if state.RetryCount() >= engine.maxRetries {
		engine.logger.Error("retry cap exceeded, terminating run",
			"thread_id", state.ThreadID(),
			"step", step.Name,
			"retries", state.RetryCount(),
			"max_retries", engine.maxRetries)
		exhausted := &WorkflowError{
			Type:    classified.Type,
			Step:    step.Name,
			Cause:   fmt.Sprintf("retry cap (%d) exceeded: %s", engine.maxRetries, classified.Cause),
			Wrapped: classified,
		}
		return true, r.failTerminally(ctx, exhausted)
	}
	retries := state.IncrementRetry()

	engine.logger.Warn("step failed, will retry from last successful point",
		"thread_id", state.ThreadID(),
		"step", step.Name,
		"error_type", classified.Type,
		"retry", retries,
		"cause", classified.Cause)

	// CurrentStep stays on the failed step: the next Step call re-executes
	// it with the loaded state, never replaying completed steps.
	if err := r.checkpoint(ctx); err != nil {
		return true, r.failTerminally(ctx, ClassifyError(err))
	}
	return false, nil
}

// failTerminally marks the run failed, checkpoints the terminal state, and
// returns the structured error.
func (r *Run) failTerminally(ctx context.Context, classified *WorkflowError) error {
	state := r.state
	state.SetCurrentStep(StepTerminal)
	state.SetCompleted(true)
	if err := r.checkpoint(ctx); err != nil {
		r.engine.logger.Error("failed to checkpoint terminal failure",
			"thread_id", state.ThreadID(), "error", err)
	}
	return classified
}

// terminalError reconstructs the structured error for an already-terminal
// failed run, so repeated Step calls stay consistent.
func (r *Run) terminalError() error {
	if !r.state.Failed() {
		return nil
	}
	records := r.state.Errors()
	if len(records) == 0 {
		return NewWorkflowError(ErrorTypeFatal, "run terminated with failure marker")
	}
	last := records[len(records)-1]
	return &WorkflowError{Type: last.Type, Step: last.Step, Cause: last.Cause}
}

// checkpoint persists the current state, retrying a bounded number of times.
// Losing checkpoint durability silently is unacceptable, so exhausting the
// retries yields a persistence-classified error that terminates the run.
func (r *Run) checkpoint(ctx context.Context) error {
	engine := r.engine
	snapshot := r.state.Snapshot()

	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		seq, err := engine.store.Save(ctx, snapshot.ThreadID, snapshot)
		if err == nil {
			engine.logger.Debug("checkpoint saved",
				"thread_id", snapshot.ThreadID,
				"sequence", seq,
				"current_step", snapshot.CurrentStep)
			return nil
		}
		engine.logger.Warn("checkpoint save failed",
			"thread_id", snapshot.ThreadID,
			"attempt", attempt,
			"error", err)
		// Every save failure is retried until the budget runs out
		return retry.NewRecoverableError(err)
	}, retry.WithMaxRetries(engine.saveRetries-1), retry.WithBaseWait(100*time.Millisecond))
	if err == nil {
		return nil
	}
	return &WorkflowError{
		Type:    ErrorTypePersistence,
		Step:    snapshot.CurrentStep,
		Cause:   fmt.Sprintf("checkpoint save failed after %d attempts: %v", attempt, err),
		Wrapped: err,
	}
}
