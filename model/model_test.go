package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complyflow/orchestrator"
	"github.com/complyflow/orchestrator/breaker"
)

func newTracker(threshold int) *breaker.Tracker {
	return breaker.NewTracker(breaker.Config{
		FailureThreshold: threshold,
		Cooldown:         time.Hour,
	})
}

func TestStaticClientScript(t *testing.T) {
	client := NewStaticClient("gpt-large",
		Outcome{Err: errors.New("overloaded")},
		Outcome{Content: "second answer"},
	)

	_, err := client.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.Error(t, err)

	resp, err := client.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.NoError(t, err)
	require.Equal(t, "gpt-large", resp.Model)
	require.Equal(t, "second answer", resp.Content)

	// The final outcome repeats once the script is exhausted
	resp, err = client.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.NoError(t, err)
	require.Equal(t, "second answer", resp.Content)

	require.Equal(t, 3, client.Calls())
}

func TestStaticClientHonorsCancellation(t *testing.T) {
	client := NewStaticClient("gpt-large")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Invoke(ctx, &Request{Instruction: "summarize"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, client.Calls())
}

func TestRouterPrefersFirstHealthyClient(t *testing.T) {
	primary := NewStaticClient("primary", Outcome{Content: "from primary"})
	secondary := NewStaticClient("secondary", Outcome{Content: "from secondary"})

	router, err := NewRouter(RouterOptions{
		Clients: []Client{primary, secondary},
		Tracker: newTracker(3),
	})
	require.NoError(t, err)

	resp, err := router.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.NoError(t, err)
	require.Equal(t, "from primary", resp.Content)
	require.Zero(t, secondary.Calls())
}

func TestRouterFallsThroughOnFailure(t *testing.T) {
	primary := NewStaticClient("primary", Outcome{Err: errors.New("overloaded")})
	secondary := NewStaticClient("secondary", Outcome{Content: "from secondary"})
	tracker := newTracker(3)

	router, err := NewRouter(RouterOptions{
		Clients: []Client{primary, secondary},
		Tracker: tracker,
	})
	require.NoError(t, err)

	resp, err := router.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.NoError(t, err)
	require.Equal(t, "from secondary", resp.Content)

	// The failed call counted against the primary's circuit
	require.Equal(t, 1, tracker.State("primary").ConsecutiveFailures)
	require.Zero(t, tracker.State("secondary").ConsecutiveFailures)
}

func TestRouterSkipsOpenCircuitsWithoutCounting(t *testing.T) {
	primary := NewStaticClient("primary", Outcome{Content: "from primary"})
	secondary := NewStaticClient("secondary", Outcome{Content: "from secondary"})
	tracker := newTracker(1)
	tracker.RecordOutcome("primary", false)
	require.Equal(t, breaker.StateOpen, tracker.State("primary").State)

	router, err := NewRouter(RouterOptions{
		Clients: []Client{primary, secondary},
		Tracker: tracker,
	})
	require.NoError(t, err)

	resp, err := router.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.NoError(t, err)
	require.Equal(t, "from secondary", resp.Content)
	require.Zero(t, primary.Calls())
	require.Equal(t, 1, tracker.State("primary").ConsecutiveFailures)
}

func TestRouterNoHealthyModel(t *testing.T) {
	primary := NewStaticClient("primary")
	tracker := newTracker(1)
	tracker.RecordOutcome("primary", false)

	router, err := NewRouter(RouterOptions{
		Clients: []Client{primary},
		Tracker: tracker,
	})
	require.NoError(t, err)

	_, err = router.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.ErrorIs(t, err, ErrNoHealthyModel)
}

func TestRouterAllCandidatesFailed(t *testing.T) {
	cause := errors.New("overloaded")
	primary := NewStaticClient("primary", Outcome{Err: cause})

	router, err := NewRouter(RouterOptions{
		Clients: []Client{primary},
		Tracker: newTracker(3),
	})
	require.NoError(t, err)

	_, err = router.Invoke(context.Background(), &Request{Instruction: "summarize"})
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "all candidate models failed")
}

func TestRouterRequiresClientsAndTracker(t *testing.T) {
	_, err := NewRouter(RouterOptions{Tracker: newTracker(3)})
	require.Error(t, err)

	_, err = NewRouter(RouterOptions{Clients: []Client{NewStaticClient("m")}})
	require.Error(t, err)
}

func TestHandlerExecute(t *testing.T) {
	client := NewStaticClient("gpt-large", Outcome{Content: "analysis complete"})
	handler := NewHandler("call_model", client)
	require.Equal(t, "call_model", handler.Name())

	step := &orchestrator.Step{Name: "analyze", Handler: "call_model", Model: "gpt-large"}

	t.Run("requires an instruction param", func(t *testing.T) {
		_, err := handler.Execute(context.Background(), &orchestrator.StepRequest{
			Step:   step,
			Params: map[string]any{},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "no instruction param")
	})

	t.Run("returns content and usage", func(t *testing.T) {
		result, err := handler.Execute(context.Background(), &orchestrator.StepRequest{
			Step: step,
			Params: map[string]any{
				"instruction": "summarize the filing",
			},
		})
		require.NoError(t, err)
		require.Equal(t, "analysis complete", result.Output["content"])
		require.Equal(t, "gpt-large", result.Output["model"])
		require.NotZero(t, result.Output["tokens"])
	})

	t.Run("invocation errors propagate", func(t *testing.T) {
		failing := NewHandler("call_model", NewStaticClient("m", Outcome{Err: errors.New("overloaded")}))
		_, err := failing.Execute(context.Background(), &orchestrator.StepRequest{
			Step:   step,
			Params: map[string]any{"instruction": "summarize"},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "model invocation failed")
	})
}
