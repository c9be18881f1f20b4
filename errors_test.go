package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/complyflow/orchestrator/retry"
)

func TestWorkflowError(t *testing.T) {
	cause := errors.New("underlying")
	err := &WorkflowError{
		Type:    ErrorTypeTransient,
		Step:    "analyze",
		Cause:   "model call failed",
		Wrapped: cause,
	}
	require.Contains(t, err.Error(), "transient")
	require.Contains(t, err.Error(), "analyze")
	require.ErrorIs(t, err, cause)

	var unwrapped *WorkflowError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &unwrapped))
	require.Equal(t, "analyze", unwrapped.Step)
}

func TestClassifyError(t *testing.T) {
	t.Run("workflow error passes through", func(t *testing.T) {
		original := NewWorkflowError(ErrorTypePersistence, "disk full")
		classified := ClassifyError(fmt.Errorf("save: %w", original))
		require.Equal(t, ErrorTypePersistence, classified.Type)
	})

	t.Run("deadline exceeded is a timeout", func(t *testing.T) {
		classified := ClassifyError(context.DeadlineExceeded)
		require.Equal(t, ErrorTypeTimeout, classified.Type)
	})

	t.Run("timeout message is a timeout", func(t *testing.T) {
		classified := ClassifyError(errors.New("upstream TIMEOUT talking to model"))
		require.Equal(t, ErrorTypeTimeout, classified.Type)
	})

	t.Run("unknown errors default to transient", func(t *testing.T) {
		classified := ClassifyError(errors.New("something odd"))
		require.Equal(t, ErrorTypeTransient, classified.Type)
	})

	t.Run("explicitly unretryable errors are fatal", func(t *testing.T) {
		marked := retry.NewNonRecoverableError(errors.New("schema mismatch"))
		classified := ClassifyError(marked)
		require.Equal(t, ErrorTypeFatal, classified.Type)
	})
}

func TestIsFatal(t *testing.T) {
	require.True(t, IsFatal(ConfigurationError("bad edge")))
	require.True(t, IsFatal(NewWorkflowError(ErrorTypeFatal, "no")))
	require.False(t, IsFatal(NewWorkflowError(ErrorTypeTransient, "maybe")))
	require.False(t, IsFatal(errors.New("unknown")))
}

func TestMatchesErrorType(t *testing.T) {
	transient := NewWorkflowError(ErrorTypeTransient, "x")
	fatal := NewWorkflowError(ErrorTypeFatal, "x")

	require.True(t, MatchesErrorType(transient, ErrorTypeTransient))
	require.True(t, MatchesErrorType(transient, ErrorTypeAll))
	require.False(t, MatchesErrorType(transient, ErrorTypeTimeout))

	// Fatal errors never match the wildcard
	require.False(t, MatchesErrorType(fatal, ErrorTypeAll))
	require.True(t, MatchesErrorType(fatal, ErrorTypeFatal))
}

func TestErrorRecordFromWorkflowError(t *testing.T) {
	err := &WorkflowError{Type: ErrorTypeTimeout, Cause: "slow"}
	record := err.ToRecord("call", 2, 12345)
	require.Equal(t, "call", record.Step)
	require.Equal(t, ErrorTypeTimeout, record.Type)
	require.Equal(t, 2, record.Attempt)
	require.Equal(t, int64(12345), record.Timestamp)
}
