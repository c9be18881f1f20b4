// Package stream forwards a workflow run's incremental output to a caller
// as framed chunks. The emitter drives the engine step by step rather than
// in full-run mode, so output is forwarded as each step produces it instead
// of buffering the entire run.
package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FrameKind discriminates streamed chunk types.
type FrameKind string

const (
	// FrameMetadata is sent exactly once, first
	FrameMetadata FrameKind = "metadata"
	// FrameContent carries one unit of incremental step output
	FrameContent FrameKind = "content"
	// FrameError is terminal, mutually exclusive with FrameComplete
	FrameError FrameKind = "error"
	// FrameComplete is terminal, mutually exclusive with FrameError
	FrameComplete FrameKind = "complete"
)

// Frame is one streamed chunk.
type Frame struct {
	ChunkID   string    `json:"chunk_id"`
	Kind      FrameKind `json:"chunk_type"`
	Content   any       `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the frame ends the stream
func (f Frame) Terminal() bool {
	return f.Kind == FrameError || f.Kind == FrameComplete
}

func newFrame(kind FrameKind, content any) Frame {
	return Frame{
		ChunkID:   uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Metadata is the content of the first frame.
type Metadata struct {
	ThreadID string `json:"thread_id"`
	Graph    string `json:"graph"`
	Resumed  bool   `json:"resumed"`
}

// Content is the payload of one content frame.
type Content struct {
	Step   string         `json:"step"`
	Output map[string]any `json:"output"`
}

// Failure is the payload of an error frame.
type Failure struct {
	Type  string `json:"type"`
	Step  string `json:"step,omitempty"`
	Cause string `json:"cause"`
}

// Completion is the payload of the complete frame.
type Completion struct {
	ThreadID string         `json:"thread_id"`
	Outputs  map[string]any `json:"outputs"`
	Steps    int            `json:"steps"`
}

// send delivers a frame unless the receiver has gone away.
func send(ctx context.Context, frames chan<- Frame, frame Frame) bool {
	select {
	case frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendTerminal delivers a terminal frame after cancellation. The receiver
// may already be gone, so delivery must not block the pump goroutine.
func sendTerminal(frames chan<- Frame, frame Frame) {
	select {
	case frames <- frame:
	default:
	}
}
