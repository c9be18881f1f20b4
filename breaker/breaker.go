// Package breaker tracks per-model availability with a circuit breaker
// state machine. The tracker never blocks and never errors: availability
// checks always return a boolean, so a failing model can never stall the
// engine's step loop.
package breaker

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit state for one model
type State int

const (
	// StateClosed admits all calls
	StateClosed State = iota
	// StateOpen rejects all calls until the cooldown elapses
	StateOpen
	// StateHalfOpen admits exactly one trial call
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the tracker's tunable constants.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// closed circuit open.
	FailureThreshold int

	// Cooldown is how long an open circuit waits before admitting a
	// half-open trial call.
	Cooldown time.Duration
}

// DefaultConfig returns the documented default constants: 5 consecutive
// failures, 30 second cooldown.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Snapshot is a read-only view of one model's circuit state.
type Snapshot struct {
	ModelID             string    `json:"model_id"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	TrialInFlight       bool      `json:"trial_in_flight,omitempty"`
}

// StateChange describes one circuit transition, delivered to the tracker's
// event handler.
type StateChange struct {
	ModelID   string    `json:"model_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Failures  int       `json:"failures"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives circuit state transitions.
type EventHandler func(change StateChange)

// circuit is the health record for a single model. All mutation happens
// under the mutex; transitions follow only the legal edges:
// closed→open, open→half-open, half-open→closed, half-open→open.
type circuit struct {
	modelID             string
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	mutex               sync.Mutex
}

// Tracker maintains circuit state per model identifier. Circuits are
// created lazily on first reference and never deleted.
type Tracker struct {
	config  Config
	handler EventHandler
	logger  *slog.Logger
	mutex   sync.RWMutex
	models  map[string]*circuit
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEventHandler registers a callback for circuit transitions.
func WithEventHandler(handler EventHandler) Option {
	return func(t *Tracker) { t.handler = handler }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a model health tracker with the given config.
func NewTracker(config Config, opts ...Option) *Tracker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	t := &Tracker{
		config: config,
		models: map[string]*circuit{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// Available reports whether a call to the model may proceed. It returns
// true when the circuit is closed, or when it is half-open and no trial
// call is outstanding; the single admitted half-open caller holds the
// trial slot until RecordOutcome is called. An open circuit whose cooldown
// has elapsed transitions to half-open here.
func (t *Tracker) Available(modelID string) bool {
	c := t.circuitFor(modelID)
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(c.openedAt) >= t.config.Cooldown {
			t.transition(c, StateHalfOpen, "cooldown elapsed")
			c.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordOutcome records the result of a model call. Success in half-open
// closes the circuit and zeroes the failure count; failure in half-open
// reopens it with a fresh cooldown. Consecutive failures from closed trip
// the circuit once the threshold is crossed.
func (t *Tracker) RecordOutcome(modelID string, success bool) {
	c := t.circuitFor(modelID)
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.trialInFlight = false

	if success {
		switch c.state {
		case StateClosed:
			c.consecutiveFailures = 0
		case StateHalfOpen:
			c.consecutiveFailures = 0
			t.transition(c, StateClosed, "trial call succeeded")
		}
		return
	}

	c.consecutiveFailures++
	switch c.state {
	case StateClosed:
		if c.consecutiveFailures >= t.config.FailureThreshold {
			c.openedAt = time.Now()
			t.transition(c, StateOpen, "failure threshold crossed")
		}
	case StateHalfOpen:
		c.openedAt = time.Now()
		t.transition(c, StateOpen, "trial call failed")
	}
}

// State returns a snapshot of one model's circuit.
func (t *Tracker) State(modelID string) Snapshot {
	c := t.circuitFor(modelID)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Snapshot{
		ModelID:             c.modelID,
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		OpenedAt:            c.openedAt,
		TrialInFlight:       c.trialInFlight,
	}
}

// ForceReset closes a model's circuit regardless of its current state.
// This is the operator override surfaced by the admin interface.
func (t *Tracker) ForceReset(modelID string) {
	c := t.circuitFor(modelID)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	from := c.state
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.trialInFlight = false
	c.openedAt = time.Time{}
	if from != StateClosed {
		t.emit(c, from, StateClosed, "manual reset")
	}
}

// AllStates returns snapshots of every known model circuit.
func (t *Tracker) AllStates() map[string]Snapshot {
	t.mutex.RLock()
	ids := make([]string, 0, len(t.models))
	for id := range t.models {
		ids = append(ids, id)
	}
	t.mutex.RUnlock()

	states := make(map[string]Snapshot, len(ids))
	for _, id := range ids {
		states[id] = t.State(id)
	}
	return states
}

// circuitFor returns the circuit for a model, creating it lazily.
func (t *Tracker) circuitFor(modelID string) *circuit {
	t.mutex.RLock()
	c, ok := t.models[modelID]
	t.mutex.RUnlock()
	if ok {
		return c
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if c, ok := t.models[modelID]; ok {
		return c
	}
	c = &circuit{modelID: modelID, state: StateClosed}
	t.models[modelID] = c
	return c
}

// transition changes a circuit's state. Caller must hold the circuit mutex.
func (t *Tracker) transition(c *circuit, to State, reason string) {
	from := c.state
	c.state = to
	t.logger.Info("model circuit state change",
		"model_id", c.modelID,
		"from", from.String(),
		"to", to.String(),
		"failures", c.consecutiveFailures,
		"reason", reason)
	t.emit(c, from, to, reason)
}

// emit delivers a state change event. Caller must hold the circuit mutex;
// delivery is asynchronous to avoid handler deadlocks.
func (t *Tracker) emit(c *circuit, from, to State, reason string) {
	if t.handler == nil {
		return
	}
	change := StateChange{
		ModelID:   c.modelID,
		From:      from,
		To:        to,
		Failures:  c.consecutiveFailures,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	go t.handler(change)
}
