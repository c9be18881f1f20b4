package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/complyflow/orchestrator"
)

// Emitter wraps an engine and streams one run's output as framed chunks.
type Emitter struct {
	engine *orchestrator.Engine
	logger *slog.Logger

	// Buffer is the frame channel capacity. Zero means a small default.
	Buffer int
}

// NewEmitter creates a streaming emitter over an engine.
func NewEmitter(engine *orchestrator.Engine, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Emitter{engine: engine, logger: logger}
}

// Emit starts or resumes a run for the thread and returns its frame
// sequence. The sequence begins with exactly one metadata frame and ends
// with exactly one terminal frame: complete on success, error otherwise.
//
// Cancellation: when ctx is canceled the in-flight step is finished, never
// aborted mid-step, so the last checkpoint always reflects a completed step.
// No further steps run afterwards and the stream terminates with an error
// frame.
func (e *Emitter) Emit(ctx context.Context, threadID string, input map[string]any) (<-chan Frame, error) {
	run, err := e.engine.NewRun(ctx, threadID, input)
	if err != nil {
		return nil, err
	}

	buffer := e.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	frames := make(chan Frame, buffer)

	go e.pump(ctx, run, frames)
	return frames, nil
}

func (e *Emitter) pump(ctx context.Context, run *orchestrator.Run, frames chan<- Frame) {
	defer close(frames)
	defer run.Close()

	state := run.State()
	send(ctx, frames, newFrame(FrameMetadata, Metadata{
		ThreadID: state.ThreadID(),
		Graph:    e.engine.Graph().Name(),
		Resumed:  run.Resumed(),
	}))

	// Steps execute under a detached context: cancellation is observed
	// between steps only, preserving checkpoint consistency.
	stepCtx := context.WithoutCancel(ctx)

	emitted := len(state.StepHistory())
	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("stream canceled, halting after last completed step",
				"thread_id", state.ThreadID(),
				"current_step", state.CurrentStep())
			sendTerminal(frames, newFrame(FrameError, Failure{
				Type:  "canceled",
				Step:  state.CurrentStep(),
				Cause: err.Error(),
			}))
			return
		}

		done, err := run.Step(stepCtx)

		// Forward output for every step completed since the last call
		history := state.StepHistory()
		for ; emitted < len(history); emitted++ {
			stepName := history[emitted]
			step, ok := e.engine.Graph().GetStep(stepName)
			if !ok || !step.Emit {
				continue
			}
			output, ok := state.ToolOutput(stepName)
			if !ok {
				continue
			}
			outputMap, _ := output.(map[string]any)
			if !send(ctx, frames, newFrame(FrameContent, Content{
				Step:   stepName,
				Output: outputMap,
			})) {
				// Receiver gone: same halt path as cancellation.
				sendTerminal(frames, newFrame(FrameError, Failure{
					Type:  "canceled",
					Step:  stepName,
					Cause: "stream receiver went away",
				}))
				return
			}
		}

		if err != nil {
			failure := terminalFailure(state.CurrentStep(), err)
			if !send(ctx, frames, failure) {
				sendTerminal(frames, failure)
			}
			return
		}
		if done {
			completion := newFrame(FrameComplete, Completion{
				ThreadID: state.ThreadID(),
				Outputs:  state.ToolOutputs(),
				Steps:    len(state.StepHistory()),
			})
			if !send(ctx, frames, completion) {
				sendTerminal(frames, completion)
			}
			return
		}
	}
}

func terminalFailure(step string, err error) Frame {
	var workflowErr *orchestrator.WorkflowError
	if errors.As(err, &workflowErr) {
		return newFrame(FrameError, Failure{
			Type:  workflowErr.Type,
			Step:  workflowErr.Step,
			Cause: workflowErr.Cause,
		})
	}
	return newFrame(FrameError, Failure{
		Type:  orchestrator.ErrorTypeFatal,
		Step:  step,
		Cause: err.Error(),
	})
}
