package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraphStepNames(t *testing.T) {
	g, err := New(Options{
		Name: "test-graph",
		Steps: []*Step{
			{Name: "step1", Handler: "h", Next: []*Edge{{Step: "step2"}}},
			{Name: "step2", Handler: "h", End: true},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"step1", "step2"}, g.StepNames())
	require.Equal(t, "step1", g.Start().Name)
}

func TestInvalidGraphs(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		_, err := New(Options{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "graph name required")
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := New(Options{Name: "test-graph"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "steps required")
	})

	t.Run("empty step name", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-graph",
			Steps: []*Step{{Name: "", Handler: "h", End: true}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "step name required")
	})

	t.Run("reserved step name", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-graph",
			Steps: []*Step{{Name: StepTerminal, Handler: "h", End: true}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "reserved")
	})

	t.Run("duplicate step name", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-graph",
			Steps: []*Step{
				{Name: "a", Handler: "h", End: true},
				{Name: "a", Handler: "h", End: true},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate step name")
	})

	t.Run("edge to undeclared step", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-graph",
			Steps: []*Step{
				{Name: "a", Handler: "h", Next: []*Edge{{Step: "missing"}}},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), `undeclared step "missing"`)
	})

	t.Run("undeclared fallback", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-graph",
			Steps: []*Step{
				{Name: "a", Handler: "h", Fallback: "missing", End: true},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "undeclared fallback")
	})

	t.Run("missing handler", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-graph",
			Steps: []*Step{{Name: "a", End: true}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "no handler")
	})

	t.Run("dead-end step must be terminal", func(t *testing.T) {
		_, err := New(Options{
			Name:  "test-graph",
			Steps: []*Step{{Name: "a", Handler: "h"}},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "not an end step")
	})

	t.Run("invalid condition syntax", func(t *testing.T) {
		_, err := New(Options{
			Name: "test-graph",
			Steps: []*Step{
				{Name: "a", Handler: "h", Next: []*Edge{
					{Step: "b", Condition: "this is ((( not risor"},
				}},
				{Name: "b", Handler: "h", End: true},
			},
		})
		require.Error(t, err)
	})
}

func TestNextStep(t *testing.T) {
	g, err := New(Options{
		Name: "routing",
		Steps: []*Step{
			{Name: "route", Handler: "h", Next: []*Edge{
				{Step: "big", Condition: `outputs["route"]["size"] > 10`},
				{Step: "small", Condition: `outputs["route"]["size"] <= 10`},
			}},
			{Name: "big", Handler: "h", End: true},
			{Name: "small", Handler: "h", End: true},
			{Name: "solo", Handler: "h", End: true},
			{Name: "guarded", Handler: "h", Next: []*Edge{
				{Step: "big", Condition: "false"},
			}},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("condition selects matching edge", func(t *testing.T) {
		state := NewWorkflowState("t1", "route", nil)
		state.MergeOutputs(map[string]any{"route": map[string]any{"size": 42}})
		next, err := g.NextStep(ctx, g.stepsByName["route"], state)
		require.NoError(t, err)
		require.Equal(t, "big", next)

		state = NewWorkflowState("t2", "route", nil)
		state.MergeOutputs(map[string]any{"route": map[string]any{"size": 3}})
		next, err = g.NextStep(ctx, g.stepsByName["route"], state)
		require.NoError(t, err)
		require.Equal(t, "small", next)
	})

	t.Run("end step resolves to terminal", func(t *testing.T) {
		state := NewWorkflowState("t3", "solo", nil)
		next, err := g.NextStep(ctx, g.stepsByName["solo"], state)
		require.NoError(t, err)
		require.Equal(t, StepTerminal, next)
	})

	t.Run("no matching edge on non-terminal step fails", func(t *testing.T) {
		state := NewWorkflowState("t4", "guarded", nil)
		_, err := g.NextStep(ctx, g.stepsByName["guarded"], state)
		require.Error(t, err)
		require.Equal(t, ErrorTypeConfiguration, ClassifyError(err).Type)
	})

	t.Run("empty condition always matches", func(t *testing.T) {
		g2, err := New(Options{
			Name: "unconditional",
			Steps: []*Step{
				{Name: "a", Handler: "h", Next: []*Edge{{Step: "b"}}},
				{Name: "b", Handler: "h", End: true},
			},
		})
		require.NoError(t, err)
		next, err := g2.NextStep(ctx, g2.Start(), NewWorkflowState("t5", "a", nil))
		require.NoError(t, err)
		require.Equal(t, "b", next)
	})
}

func TestLoadString(t *testing.T) {
	g, err := LoadString(`
name: yaml-graph
description: loaded from yaml
steps:
  - name: first
    handler: work
    next:
      - step: last
        condition: 'retry_count == 0'
  - name: last
    handler: work
    emit: true
    end: true
`)
	require.NoError(t, err)
	require.Equal(t, "yaml-graph", g.Name())
	require.Equal(t, "loaded from yaml", g.Description())
	require.Equal(t, []string{"first", "last"}, g.StepNames())

	last, ok := g.GetStep("last")
	require.True(t, ok)
	require.True(t, last.Emit)
	require.True(t, last.End)
}

func TestLoadStringInvalid(t *testing.T) {
	_, err := LoadString("steps: {this is not a list}")
	require.Error(t, err)

	_, err = LoadString(`
name: bad
steps:
  - name: only
    handler: work
    next:
      - step: nowhere
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared")
}
