package model

import (
	"context"
	"sync"
)

// StaticClient is a scripted client that serves canned responses, for tests
// and local development without a live backend. Outcomes are consumed in
// order; once the script is exhausted the final outcome repeats.
type StaticClient struct {
	modelID string
	mutex   sync.Mutex
	script  []Outcome
	calls   int
}

// Outcome is one scripted invocation result.
type Outcome struct {
	Content string
	Err     error
}

// NewStaticClient creates a scripted client. With an empty script every call
// succeeds with empty content.
func NewStaticClient(modelID string, script ...Outcome) *StaticClient {
	return &StaticClient{modelID: modelID, script: script}
}

func (c *StaticClient) ModelID() string {
	return c.modelID
}

// Calls returns how many invocations the client has served
func (c *StaticClient) Calls() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.calls
}

func (c *StaticClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	index := c.calls
	c.calls++
	if index >= len(c.script) {
		index = len(c.script) - 1
	}
	var outcome Outcome
	if index >= 0 {
		outcome = c.script[index]
	}
	c.mutex.Unlock()

	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return &Response{
		Model:   c.modelID,
		Content: outcome.Content,
		Usage: Usage{
			PromptTokens:     len(req.Instruction) / 4,
			CompletionTokens: len(outcome.Content) / 4,
			TotalTokens:      (len(req.Instruction) + len(outcome.Content)) / 4,
		},
	}, nil
}
