// Package quota gates admission into the orchestration core with per-category
// token buckets. Denial is a pure signal: the guard never queues, delays, or
// retries on the caller's behalf.
package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit describes one operation category's budget: a steady refill rate in
// admissions per second and a burst allowance.
type Limit struct {
	PerSecond float64 `json:"per_second" yaml:"per_second"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// Guard admits or rejects operations per category. Each category has an
// independent token bucket, and each caller draws from its own bucket within
// the category so one noisy caller cannot starve the rest.
type Guard struct {
	mutex    sync.Mutex
	limits   map[string]Limit
	fallback Limit
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGuard creates a guard with per-category limits. Categories not listed
// use the fallback limit.
func NewGuard(limits map[string]Limit, fallback Limit) *Guard {
	if fallback.PerSecond <= 0 {
		fallback.PerSecond = 1
	}
	if fallback.Burst <= 0 {
		fallback.Burst = 1
	}
	copied := make(map[string]Limit, len(limits))
	for category, limit := range limits {
		copied[category] = limit
	}
	return &Guard{
		limits:   copied,
		fallback: fallback,
		visitors: map[string]*visitor{},
	}
}

// TryAdmit reports whether one operation of the given category may proceed
// for the given caller. A false return carries no side effects beyond the
// consumed clock reading; surfacing the throttling error is the caller's
// responsibility.
func (g *Guard) TryAdmit(category, callerID string) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	key := category + "\x00" + callerID
	v, ok := g.visitors[key]
	if !ok {
		limit, found := g.limits[category]
		if !found {
			limit = g.fallback
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst)}
		g.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// Prune drops visitor buckets idle longer than maxIdle and returns how many
// were removed. Callers run this periodically to bound memory.
func (g *Guard) Prune(maxIdle time.Duration) int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	var pruned int
	cutoff := time.Now().Add(-maxIdle)
	for key, v := range g.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(g.visitors, key)
			pruned++
		}
	}
	return pruned
}
