package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewThreadID(t *testing.T) {
	id := NewThreadID()
	require.True(t, strings.HasPrefix(id, "thread_"))
	require.NotEqual(t, id, NewThreadID())
}

func TestWorkflowStateHistory(t *testing.T) {
	state := NewWorkflowState("t1", "start", nil)
	require.Empty(t, state.StepHistory())

	state.AppendHistory("start")
	state.AppendHistory("middle")
	require.Equal(t, []string{"start", "middle"}, state.StepHistory())

	// Returned slice is a copy
	history := state.StepHistory()
	history[0] = "mutated"
	require.Equal(t, []string{"start", "middle"}, state.StepHistory())
}

func TestMergeOutputs(t *testing.T) {
	state := NewWorkflowState("t1", "start", nil)

	state.MergeOutputs(map[string]any{
		"analyze": map[string]any{"score": 1},
	})
	state.MergeOutputs(map[string]any{
		"analyze": map[string]any{"notes": "ok"},
		"collect": map[string]any{"count": 3},
	})

	outputs := state.ToolOutputs()
	analyze, ok := outputs["analyze"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 1, analyze["score"])
	require.Equal(t, "ok", analyze["notes"])
	require.Contains(t, outputs, "collect")

	// Non-map values replace instead of merging
	state.MergeOutputs(map[string]any{"collect": "done"})
	value, ok := state.ToolOutput("collect")
	require.True(t, ok)
	require.Equal(t, "done", value)
}

func TestRetryCount(t *testing.T) {
	state := NewWorkflowState("t1", "start", nil)
	require.Equal(t, 0, state.RetryCount())
	require.Equal(t, 1, state.IncrementRetry())
	require.Equal(t, 2, state.IncrementRetry())
	require.Equal(t, 2, state.RetryCount())
}

func TestErrorRecords(t *testing.T) {
	state := NewWorkflowState("t1", "start", nil)
	state.AppendError(ErrorRecord{Step: "a", Type: ErrorTypeTransient, Cause: "boom"})
	state.AppendError(ErrorRecord{Step: "a", Type: ErrorTypeTimeout, Cause: "slow"})

	records := state.Errors()
	require.Len(t, records, 2)
	require.Equal(t, ErrorTypeTransient, records[0].Type)
	require.Equal(t, ErrorTypeTimeout, records[1].Type)
}

func TestStateStatus(t *testing.T) {
	state := NewWorkflowState("t1", "start", nil)
	require.Equal(t, RunStatusRunning, state.Status())

	state.SetCompleted(false)
	require.Equal(t, RunStatusCompleted, state.Status())
	require.True(t, state.Completed())
	require.False(t, state.Failed())

	failed := NewWorkflowState("t2", "start", nil)
	failed.SetCompleted(true)
	require.Equal(t, RunStatusFailed, failed.Status())
	require.True(t, failed.Failed())
}

func TestSnapshotRoundTrip(t *testing.T) {
	state := NewWorkflowState("t1", "start", map[string]any{"topic": "gdpr"})
	state.AppendHistory("start")
	state.MergeOutputs(map[string]any{"start": map[string]any{"ok": true}})
	state.AppendError(ErrorRecord{Step: "start", Type: ErrorTypeTransient, Cause: "x"})
	state.IncrementRetry()
	state.SetCurrentStep("next")

	snapshot := state.Snapshot()
	require.NoError(t, snapshot.Validate())

	restored := RestoreState(snapshot)
	require.Equal(t, state.ThreadID(), restored.ThreadID())
	require.Equal(t, state.StepHistory(), restored.StepHistory())
	require.Equal(t, state.ToolOutputs(), restored.ToolOutputs())
	require.Equal(t, state.RetryCount(), restored.RetryCount())
	require.Equal(t, "next", restored.CurrentStep())
	require.Len(t, restored.Errors(), 1)
	require.Equal(t, state.Input(), restored.Input())
}

func TestSnapshotIsolation(t *testing.T) {
	state := NewWorkflowState("t1", "start", nil)
	state.AppendHistory("start")
	snapshot := state.Snapshot()

	state.AppendHistory("later")
	require.Equal(t, []string{"start"}, snapshot.StepHistory)
}

func TestSnapshotValidate(t *testing.T) {
	require.Error(t, StateSnapshot{}.Validate())
	require.Error(t, StateSnapshot{ThreadID: "t", RetryCount: -1}.Validate())
	require.NoError(t, StateSnapshot{ThreadID: "t", StartTime: time.Now()}.Validate())
}
