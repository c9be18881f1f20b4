package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/complyflow/orchestrator/retry"
)

// Error type constants for classification and routing decisions
const (
	// ErrorTypeAll acts as a wildcard that matches any error except fatal errors
	ErrorTypeAll = "all"

	// ErrorTypeTransient matches transient upstream failures: model timeouts,
	// upstream rate limits, temporary network faults. Transient errors are
	// recovered inside the engine via the error-handling step, bounded by the
	// retry cap.
	ErrorTypeTransient = "transient"

	// ErrorTypeModelUnavailable indicates the circuit for a model is open.
	// Routed to the fallback step, not treated as a hard failure.
	ErrorTypeModelUnavailable = "model_unavailable"

	// ErrorTypeTimeout matches a deadline exceeded or canceled step
	ErrorTypeTimeout = "timeout"

	// ErrorTypeConfiguration indicates a graph configuration problem such as
	// an undeclared next-step name. Always fatal, never retried.
	ErrorTypeConfiguration = "configuration"

	// ErrorTypePersistence indicates a checkpoint write failure. Retried a
	// small bounded number of times by the engine, then fatal.
	ErrorTypePersistence = "persistence"

	// ErrorTypeFatal indicates a run failed with an error that must never be
	// retried. Unknown errors default to ErrorTypeTransient so retries remain
	// possible; errors known to be unretryable must carry this type.
	ErrorTypeFatal = "fatal"
)

// WorkflowError is a structured, classified failure record. It supports Go's
// error wrapping patterns with Unwrap.
type WorkflowError struct {
	Type    string `json:"type"`
	Step    string `json:"step,omitempty"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s at step %q: %s", e.Type, e.Step, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NewWorkflowError creates a new WorkflowError with the given type and cause.
// The type can be any string; it is matched against routing rules in the
// graph's error-handling configuration.
func NewWorkflowError(errorType, cause string) *WorkflowError {
	return &WorkflowError{Type: errorType, Cause: cause}
}

// ConfigurationError returns a fatal configuration error. Used when a step
// names a successor that is not declared in the graph.
func ConfigurationError(format string, args ...any) *WorkflowError {
	return &WorkflowError{
		Type:  ErrorTypeConfiguration,
		Cause: fmt.Sprintf(format, args...),
	}
}

// ClassifyError classifies a plain error into a WorkflowError
func ClassifyError(err error) *WorkflowError {
	// If the error is already a WorkflowError, return it
	var workflowError *WorkflowError
	if errors.As(err, &workflowError) {
		return workflowError
	}
	// Timeouts feed the health tracker as failures but stay retryable
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &WorkflowError{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Errors explicitly marked unretryable terminate the run
	var recoverable retry.RecoverableError
	if errors.As(err, &recoverable) && !recoverable.IsRecoverable() {
		return &WorkflowError{
			Type:    ErrorTypeFatal,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Default to transient so unknown errors remain retryable
	return &WorkflowError{
		Type:    ErrorTypeTransient,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsFatal reports whether an error must terminate the run without retry.
func IsFatal(err error) bool {
	t := ClassifyError(err).Type
	return t == ErrorTypeFatal || t == ErrorTypeConfiguration
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	wErr := ClassifyError(err)
	// Fatal and configuration errors are only matched by their own patterns
	if wErr.Type == ErrorTypeFatal || wErr.Type == ErrorTypeConfiguration {
		return errorType == wErr.Type
	}
	switch errorType {
	case ErrorTypeAll:
		return true
	case ErrorTypeTransient:
		return wErr.Type != ErrorTypeTimeout
	default:
		// Arbitrary user-defined type strings are allowed here, not just the
		// constants above.
		return wErr.Type == errorType
	}
}

// ErrorRecord is the serializable form of a failure appended to workflow
// state. Records are append-only: the engine never removes them.
type ErrorRecord struct {
	Step      string `json:"step"`
	Type      string `json:"type"`
	Cause     string `json:"cause"`
	Attempt   int    `json:"attempt"`
	Details   any    `json:"details,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ToRecord converts a WorkflowError to an ErrorRecord for state tracking.
func (e *WorkflowError) ToRecord(step string, attempt int, unixNano int64) ErrorRecord {
	return ErrorRecord{
		Step:      step,
		Type:      e.Type,
		Cause:     e.Cause,
		Attempt:   attempt,
		Details:   e.Details,
		Timestamp: unixNano,
	}
}
