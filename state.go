package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// NewThreadID returns a new identifier for a logical, resumable run.
func NewThreadID() string {
	id, err := typeid.WithPrefix("thread")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// RunStatus represents the lifecycle status of a thread's run
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// WorkflowState is the mutable payload threaded through a graph run. It is
// mutated exclusively by the engine inside step execution. Collection fields
// have explicit merge semantics: StepHistory and Errors are append-only,
// ToolOutputs merges by key so partial updates compose instead of
// overwriting.
type WorkflowState struct {
	threadID    string
	stepHistory []string
	toolOutputs map[string]any
	errorList   []ErrorRecord
	retryCount  int
	currentStep string
	completed   bool
	failed      bool
	input       map[string]any
	startTime   time.Time
	mutex       sync.RWMutex
}

// NewWorkflowState creates state for a fresh run starting at the given step.
func NewWorkflowState(threadID, startStep string, input map[string]any) *WorkflowState {
	if threadID == "" {
		threadID = NewThreadID()
	}
	return &WorkflowState{
		threadID:    threadID,
		currentStep: startStep,
		toolOutputs: map[string]any{},
		input:       copyMap(input),
		startTime:   time.Now(),
	}
}

// ThreadID returns the stable identifier for this logical run
func (s *WorkflowState) ThreadID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.threadID
}

// CurrentStep returns the step about to execute or that last failed
func (s *WorkflowState) CurrentStep() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.currentStep
}

// SetCurrentStep records the step about to execute
func (s *WorkflowState) SetCurrentStep(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.currentStep = name
}

// StepHistory returns a copy of the ordered step names already executed
func (s *WorkflowState) StepHistory() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	history := make([]string, len(s.stepHistory))
	copy(history, s.stepHistory)
	return history
}

// AppendHistory appends an executed step name. History never loses entries.
func (s *WorkflowState) AppendHistory(stepName string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stepHistory = append(s.stepHistory, stepName)
}

// ToolOutputs returns a copy of the per-step structured outputs
func (s *WorkflowState) ToolOutputs() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyMap(s.toolOutputs)
}

// ToolOutput retrieves one step's output
func (s *WorkflowState) ToolOutput(key string) (any, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	value, ok := s.toolOutputs[key]
	return value, ok
}

// MergeOutputs merges step outputs by key. Existing keys whose values are
// maps are merged recursively one level deep so partial updates from
// successive steps compose rather than overwrite.
func (s *WorkflowState) MergeOutputs(updates map[string]any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for key, value := range updates {
		existing, ok := s.toolOutputs[key]
		if !ok {
			s.toolOutputs[key] = value
			continue
		}
		existingMap, okA := existing.(map[string]any)
		updateMap, okB := value.(map[string]any)
		if okA && okB {
			merged := copyMap(existingMap)
			for k, v := range updateMap {
				merged[k] = v
			}
			s.toolOutputs[key] = merged
		} else {
			s.toolOutputs[key] = value
		}
	}
}

// Errors returns a copy of the append-only failure records
func (s *WorkflowState) Errors() []ErrorRecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	records := make([]ErrorRecord, len(s.errorList))
	copy(records, s.errorList)
	return records
}

// AppendError appends a structured failure record
func (s *WorkflowState) AppendError(record ErrorRecord) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.errorList = append(s.errorList, record)
}

// RetryCount returns the number of recovery attempts so far
func (s *WorkflowState) RetryCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.retryCount
}

// IncrementRetry bumps the retry counter and returns the new value. The
// counter only ever increases.
func (s *WorkflowState) IncrementRetry() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.retryCount++
	return s.retryCount
}

// Completed reports whether the run reached a terminal state
func (s *WorkflowState) Completed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.completed
}

// Failed reports whether the run terminated with a failure marker
func (s *WorkflowState) Failed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.failed
}

// SetCompleted marks the run terminal. A true failure flag is permanent.
func (s *WorkflowState) SetCompleted(failed bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.completed = true
	if failed {
		s.failed = true
	}
}

// Input returns a copy of the caller-supplied input
func (s *WorkflowState) Input() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyMap(s.input)
}

// StartTime returns when the run began
func (s *WorkflowState) StartTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.startTime
}

// Status derives the run status from the terminal flags
func (s *WorkflowState) Status() RunStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	switch {
	case s.completed && s.failed:
		return RunStatusFailed
	case s.completed:
		return RunStatusCompleted
	case len(s.stepHistory) > 0 || s.currentStep != "":
		return RunStatusRunning
	default:
		return RunStatusNotStarted
	}
}

// StateSnapshot is the serializable form of WorkflowState stored in
// checkpoints.
type StateSnapshot struct {
	ThreadID    string         `json:"thread_id"`
	StepHistory []string       `json:"step_history"`
	ToolOutputs map[string]any `json:"tool_outputs"`
	Errors      []ErrorRecord  `json:"errors,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CurrentStep string         `json:"current_step"`
	Completed   bool           `json:"completed"`
	Failed      bool           `json:"failed,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	StartTime   time.Time      `json:"start_time,omitzero"`
}

// Snapshot captures the current state for checkpointing
func (s *WorkflowState) Snapshot() StateSnapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	history := make([]string, len(s.stepHistory))
	copy(history, s.stepHistory)
	records := make([]ErrorRecord, len(s.errorList))
	copy(records, s.errorList)

	return StateSnapshot{
		ThreadID:    s.threadID,
		StepHistory: history,
		ToolOutputs: copyMap(s.toolOutputs),
		Errors:      records,
		RetryCount:  s.retryCount,
		CurrentStep: s.currentStep,
		Completed:   s.completed,
		Failed:      s.failed,
		Input:       copyMap(s.input),
		StartTime:   s.startTime,
	}
}

// RestoreState rebuilds workflow state from a checkpoint snapshot
func RestoreState(snapshot StateSnapshot) *WorkflowState {
	outputs := snapshot.ToolOutputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	return &WorkflowState{
		threadID:    snapshot.ThreadID,
		stepHistory: append([]string(nil), snapshot.StepHistory...),
		toolOutputs: copyMap(outputs),
		errorList:   append([]ErrorRecord(nil), snapshot.Errors...),
		retryCount:  snapshot.RetryCount,
		currentStep: snapshot.CurrentStep,
		completed:   snapshot.Completed,
		failed:      snapshot.Failed,
		input:       copyMap(snapshot.Input),
		startTime:   snapshot.StartTime,
	}
}

// Validate checks snapshot fields that must hold for any checkpoint
func (s StateSnapshot) Validate() error {
	if s.ThreadID == "" {
		return fmt.Errorf("state snapshot missing thread id")
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("state snapshot has negative retry count")
	}
	return nil
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
