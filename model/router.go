package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/complyflow/orchestrator/breaker"
)

// Router invokes the first healthy client in preference order, consulting
// the health tracker before each call and recording every outcome. Steps
// bound to a single declared model do not need a router; it exists for
// handlers that may degrade across backends.
type Router struct {
	clients []Client
	tracker *breaker.Tracker
	logger  *slog.Logger
	timeout time.Duration
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Clients in preference order. At least one is required.
	Clients []Client

	// Tracker gates admission per model. Required.
	Tracker *breaker.Tracker

	Logger *slog.Logger

	// CallTimeout bounds each individual model call. A timeout is recorded
	// as a failure outcome for that model. Zero disables the bound.
	CallTimeout time.Duration
}

// NewRouter creates a breaker-aware model router.
func NewRouter(opts RouterOptions) (*Router, error) {
	if len(opts.Clients) == 0 {
		return nil, fmt.Errorf("at least one model client is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("health tracker is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		clients: opts.Clients,
		tracker: opts.Tracker,
		logger:  opts.Logger,
		timeout: opts.CallTimeout,
	}, nil
}

// Invoke calls the first available client. An unavailable model is skipped
// without counting as a failure; a failed call records a failure outcome and
// falls through to the next candidate.
func (r *Router) Invoke(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for _, client := range r.clients {
		modelID := client.ModelID()
		if !r.tracker.Available(modelID) {
			r.logger.Debug("skipping unavailable model", "model_id", modelID)
			continue
		}

		response, err := r.call(ctx, client, req)
		r.tracker.RecordOutcome(modelID, err == nil)
		if err == nil {
			return response, nil
		}
		lastErr = err
		r.logger.Warn("model call failed, trying next candidate",
			"model_id", modelID, "error", err)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all candidate models failed: %w", lastErr)
	}
	return nil, ErrNoHealthyModel
}

func (r *Router) call(ctx context.Context, client Client, req *Request) (*Response, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return client.Invoke(ctx, req)
}
