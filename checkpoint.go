package orchestrator

import "time"

// Checkpoint is a durable snapshot of workflow state at a step boundary.
// For a given thread, the checkpoint with the highest Sequence is
// authoritative; older ones may be retained for audit or pruned by a
// retention policy outside this package.
type Checkpoint struct {
	ThreadID  string        `json:"thread_id"`
	Sequence  int64         `json:"sequence"`
	State     StateSnapshot `json:"state"`
	WrittenAt time.Time     `json:"written_at"`
}

// ThreadSummary describes the latest known checkpoint for one thread.
type ThreadSummary struct {
	ThreadID    string    `json:"thread_id"`
	Status      RunStatus `json:"status"`
	CurrentStep string    `json:"current_step"`
	Sequence    int64     `json:"sequence"`
	StartTime   time.Time `json:"start_time,omitzero"`
	WrittenAt   time.Time `json:"written_at"`
}

// Summary derives a thread summary from a checkpoint
func (c *Checkpoint) Summary() ThreadSummary {
	status := RunStatusRunning
	switch {
	case c.State.Completed && c.State.Failed:
		status = RunStatusFailed
	case c.State.Completed:
		status = RunStatusCompleted
	}
	return ThreadSummary{
		ThreadID:    c.ThreadID,
		Status:      status,
		CurrentStep: c.State.CurrentStep,
		Sequence:    c.Sequence,
		StartTime:   c.State.StartTime,
		WrittenAt:   c.WrittenAt,
	}
}
