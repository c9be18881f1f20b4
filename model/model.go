// Package model abstracts AI model invocation behind a capability
// interface. No provider wire protocol is assumed; callers plug in clients
// for whatever backends they run.
package model

import (
	"context"
	"errors"
)

// ErrNoHealthyModel is returned by the router when every candidate model's
// circuit is open.
var ErrNoHealthyModel = errors.New("no healthy model available")

// Request is a single model invocation.
type Request struct {
	Model       string         `json:"model,omitempty"`
	Instruction string         `json:"instruction"`
	Input       map[string]any `json:"input,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
}

// Usage reports token accounting for one invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of one model invocation.
type Response struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Client invokes a single AI model.
type Client interface {

	// ModelID returns the stable identifier used by the health tracker
	ModelID() string

	// Invoke performs one model call
	Invoke(ctx context.Context, req *Request) (*Response, error)
}
