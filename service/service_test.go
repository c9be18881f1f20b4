package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complyflow/orchestrator"
	"github.com/complyflow/orchestrator/breaker"
	"github.com/complyflow/orchestrator/quota"
	"github.com/complyflow/orchestrator/stream"
)

type stubHandler struct {
	name string
	fn   func(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error)
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Execute(ctx context.Context, req *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
	return h.fn(ctx, req)
}

func newTestService(t *testing.T, limits map[string]quota.Limit) *Service {
	t.Helper()
	graph, err := orchestrator.New(orchestrator.Options{
		Name: "review",
		Steps: []*orchestrator.Step{
			{Name: "analyze", Handler: "analyze", Emit: true, Next: []*orchestrator.Edge{{Step: "report"}}},
			{Name: "report", Handler: "report", End: true},
		},
	})
	require.NoError(t, err)

	engine, err := orchestrator.NewEngine(orchestrator.EngineOptions{
		Graph: graph,
		Handlers: []orchestrator.StepHandler{
			&stubHandler{name: "analyze", fn: func(context.Context, *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
				return &orchestrator.StepResult{Output: map[string]any{"findings": 2}}, nil
			}},
			&stubHandler{name: "report", fn: func(context.Context, *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
				return &orchestrator.StepResult{Output: map[string]any{"delivered": true}}, nil
			}},
		},
		Store: orchestrator.NewMemoryCheckpointStore(),
	})
	require.NoError(t, err)

	svc, err := New(Options{
		Engine: engine,
		Guard:  quota.NewGuard(limits, quota.Limit{PerSecond: 100, Burst: 100}),
	})
	require.NoError(t, err)
	return svc
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "engine is required")
}

func TestInvoke(t *testing.T) {
	svc := newTestService(t, nil)

	resp, err := svc.Invoke(context.Background(), Request{
		Category: "analysis",
		CallerID: "tenant-1",
		Input:    map[string]any{"document": "q2 filing"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ThreadID)
	require.True(t, resp.Completed)
	require.Contains(t, resp.Result, "analyze")
	require.Contains(t, resp.Result, "report")
}

func TestInvokeRequiresCategory(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Invoke(context.Background(), Request{CallerID: "tenant-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "category is required")
}

func TestInvokeThrottled(t *testing.T) {
	svc := newTestService(t, map[string]quota.Limit{
		"analysis": {PerSecond: 0.001, Burst: 1},
	})

	_, err := svc.Invoke(context.Background(), Request{Category: "analysis", CallerID: "tenant-1"})
	require.NoError(t, err)

	_, err = svc.Invoke(context.Background(), Request{Category: "analysis", CallerID: "tenant-1"})
	require.ErrorIs(t, err, ErrThrottled)

	// Other callers have their own budget
	_, err = svc.Invoke(context.Background(), Request{Category: "analysis", CallerID: "tenant-2"})
	require.NoError(t, err)
}

func TestStream(t *testing.T) {
	svc := newTestService(t, nil)

	frames, err := svc.Stream(context.Background(), Request{
		Category: "assistance",
		CallerID: "tenant-1",
	})
	require.NoError(t, err)

	var all []stream.Frame
	deadline := time.After(5 * time.Second)
	for {
		var frame stream.Frame
		var open bool
		select {
		case frame, open = <-frames:
		case <-deadline:
			t.Fatal("timed out waiting for frames")
		}
		if !open {
			break
		}
		all = append(all, frame)
	}

	require.Equal(t, stream.FrameMetadata, all[0].Kind)
	require.Equal(t, stream.FrameComplete, all[len(all)-1].Kind)
}

func TestStreamThrottledBeforeAnyFrame(t *testing.T) {
	svc := newTestService(t, map[string]quota.Limit{
		"assistance": {PerSecond: 0.001, Burst: 1},
	})

	_, err := svc.Stream(context.Background(), Request{Category: "assistance", CallerID: "tenant-1"})
	require.NoError(t, err)

	frames, err := svc.Stream(context.Background(), Request{Category: "assistance", CallerID: "tenant-1"})
	require.ErrorIs(t, err, ErrThrottled)
	require.Nil(t, frames)
}

func TestStatus(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	t.Run("requires thread id", func(t *testing.T) {
		_, err := svc.Status(ctx, "")
		require.Error(t, err)
	})

	t.Run("not started", func(t *testing.T) {
		report, err := svc.Status(ctx, "thread-unknown")
		require.NoError(t, err)
		require.Equal(t, orchestrator.RunStatusNotStarted, report.Status)
	})

	t.Run("completed with progress", func(t *testing.T) {
		resp, err := svc.Invoke(ctx, Request{Category: "analysis", CallerID: "tenant-1"})
		require.NoError(t, err)

		report, err := svc.Status(ctx, resp.ThreadID)
		require.NoError(t, err)
		require.Equal(t, orchestrator.RunStatusCompleted, report.Status)
		require.Equal(t, 2, report.Progress.StepsCompleted)
		require.Zero(t, report.Progress.Retries)
	})
}

func TestInvokeSurfacesTerminalFailure(t *testing.T) {
	graph, err := orchestrator.New(orchestrator.Options{
		Name: "review",
		Steps: []*orchestrator.Step{
			{Name: "analyze", Handler: "analyze", End: true},
		},
	})
	require.NoError(t, err)

	engine, err := orchestrator.NewEngine(orchestrator.EngineOptions{
		Graph: graph,
		Handlers: []orchestrator.StepHandler{
			&stubHandler{name: "analyze", fn: func(context.Context, *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
				return nil, errors.New("backend unreachable")
			}},
		},
		Store:      orchestrator.NewMemoryCheckpointStore(),
		MaxRetries: 1,
	})
	require.NoError(t, err)

	svc, err := New(Options{
		Engine: engine,
		Guard:  quota.NewGuard(nil, quota.Limit{PerSecond: 100, Burst: 100}),
	})
	require.NoError(t, err)

	resp, err := svc.Invoke(context.Background(), Request{
		Category: "analysis",
		CallerID: "tenant-1",
		ThreadID: "thread-doomed",
	})
	require.Error(t, err)
	require.Nil(t, resp)

	var workflowErr *orchestrator.WorkflowError
	require.ErrorAs(t, err, &workflowErr)

	// The failure marker is checkpointed even though Invoke errored
	report, err := svc.Status(context.Background(), "thread-doomed")
	require.NoError(t, err)
	require.Equal(t, orchestrator.RunStatusFailed, report.Status)
}

func TestModelCircuitAdministration(t *testing.T) {
	tracker := breaker.NewTracker(breaker.Config{FailureThreshold: 2, Cooldown: time.Hour})
	graph, err := orchestrator.New(orchestrator.Options{
		Name: "review",
		Steps: []*orchestrator.Step{
			{Name: "analyze", Handler: "analyze", Model: "gpt-large", End: true},
		},
	})
	require.NoError(t, err)

	engine, err := orchestrator.NewEngine(orchestrator.EngineOptions{
		Graph: graph,
		Handlers: []orchestrator.StepHandler{
			&stubHandler{name: "analyze", fn: func(context.Context, *orchestrator.StepRequest) (*orchestrator.StepResult, error) {
				return nil, errors.New("model overloaded")
			}},
		},
		Store:      orchestrator.NewMemoryCheckpointStore(),
		Tracker:    tracker,
		MaxRetries: 2,
	})
	require.NoError(t, err)

	svc, err := New(Options{
		Engine: engine,
		Guard:  quota.NewGuard(nil, quota.Limit{PerSecond: 100, Burst: 100}),
	})
	require.NoError(t, err)

	_, err = svc.Invoke(context.Background(), Request{Category: "analysis", CallerID: "tenant-1"})
	require.Error(t, err)

	states := svc.ModelStates()
	require.Contains(t, states, "gpt-large")
	require.Equal(t, breaker.StateOpen, states["gpt-large"].State)

	svc.ForceReset("gpt-large")
	states = svc.ModelStates()
	require.Equal(t, breaker.StateClosed, states["gpt-large"].State)
	require.Zero(t, states["gpt-large"].ConsecutiveFailures)
}
