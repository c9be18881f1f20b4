package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complyflow/orchestrator"
)

func TestBuiltins(t *testing.T) {
	registry := Builtins()
	for _, name := range []string{"print", "script", "time", "wait", "fail"} {
		handler, ok := registry[name]
		require.True(t, ok, "missing builtin %q", name)
		require.Equal(t, name, handler.Name())
	}
}

func TestPrintHandler(t *testing.T) {
	handler := NewPrintHandler()

	_, err := handler.Execute(context.Background(), &orchestrator.StepRequest{Params: map[string]any{}})
	require.Error(t, err)

	result, err := handler.Execute(context.Background(), &orchestrator.StepRequest{
		Params: map[string]any{"message": "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, true, result.Output["printed"])
}

func TestWaitHandler(t *testing.T) {
	handler := NewWaitHandler()
	ctx := context.Background()

	t.Run("requires a duration", func(t *testing.T) {
		_, err := handler.Execute(ctx, &orchestrator.StepRequest{Params: map[string]any{}})
		require.Error(t, err)
	})

	t.Run("string duration", func(t *testing.T) {
		result, err := handler.Execute(ctx, &orchestrator.StepRequest{
			Params: map[string]any{"duration": "1ms"},
		})
		require.NoError(t, err)
		require.Equal(t, "1ms", result.Output["waited"])
	})

	t.Run("numeric seconds", func(t *testing.T) {
		result, err := handler.Execute(ctx, &orchestrator.StepRequest{
			Params: map[string]any{"duration": 0.001},
		})
		require.NoError(t, err)
		require.Equal(t, "1ms", result.Output["waited"])
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := handler.Execute(ctx, &orchestrator.StepRequest{
			Params: map[string]any{"duration": "soon"},
		})
		require.Error(t, err)
	})

	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		_, err := handler.Execute(ctx, &orchestrator.StepRequest{
			Params: map[string]any{"duration": "10s"},
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestFailHandler(t *testing.T) {
	handler := NewFailHandler()

	_, err := handler.Execute(context.Background(), &orchestrator.StepRequest{Params: map[string]any{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "intentional failure")

	_, err = handler.Execute(context.Background(), &orchestrator.StepRequest{
		Params: map[string]any{"message": "backend down"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend down")
}

func TestTimeHandler(t *testing.T) {
	handler := NewTimeHandler()

	result, err := handler.Execute(context.Background(), &orchestrator.StepRequest{
		Params: map[string]any{"format": time.RFC1123},
	})
	require.NoError(t, err)

	formatted, ok := result.Output["time"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC1123, formatted)
	require.NoError(t, err)
	require.NotZero(t, result.Output["unix"])
}

func TestScriptHandler(t *testing.T) {
	handler := NewScriptHandler()
	ctx := context.Background()

	t.Run("requires code", func(t *testing.T) {
		_, err := handler.Execute(ctx, &orchestrator.StepRequest{Params: map[string]any{}})
		require.Error(t, err)
	})

	t.Run("evaluates against run state", func(t *testing.T) {
		result, err := handler.Execute(ctx, &orchestrator.StepRequest{
			State: orchestrator.StateSnapshot{
				ToolOutputs: map[string]any{"measure": map[string]any{"words": 120}},
			},
			Params: map[string]any{"code": `outputs["measure"]["words"] * 2`},
		})
		require.NoError(t, err)
		require.Equal(t, int64(240), result.Output["result"])
	})

	t.Run("compile errors surface", func(t *testing.T) {
		_, err := handler.Execute(ctx, &orchestrator.StepRequest{
			Params: map[string]any{"code": `outputs[`},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to compile")
	})
}
