// Package retry provides a bounded retry controller with exponential
// backoff, keyed by operation identifier so concurrent downloads never
// share a retry budget.
package retry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/drivebridge/drivebridge/internal/errs"
)

// Config holds the backoff parameters.
type Config struct {
	MaxAttempts int           // Total attempts per operation, including the first
	InitialWait time.Duration // Wait before the second attempt
	MaxWait     time.Duration // Cap on any single wait
	Multiplier  float64       // Backoff multiplier
}

// DefaultConfig returns the production policy: 3 attempts,
// 1s/2s backoff capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 1000 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

// State tracks the retry budget of one operation identifier.
type State struct {
	Attempts int
	LastErr  error
	Retrying bool

	touched time.Time
}

// Result is the outcome of a Do call.
type Result struct {
	OK       bool
	Err      error
	Attempts int
}

// Controller owns the arena of per-operation retry state. Callers must
// not run two Do calls for the same operation id concurrently; the
// controller serializes nothing beyond map access.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*State
}

// NewController creates a controller with the given config, falling
// back to DefaultConfig for zero values.
func NewController(cfg Config) *Controller {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		cfg:    cfg,
		states: make(map[string]*State),
	}
}

// state returns the tracked state for id, creating it on first use.
func (c *Controller) state(id string) *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	if !ok {
		st = &State{}
		c.states[id] = st
	}
	st.touched = time.Now()
	return st
}

// Backoff returns the wait before the next attempt given the number of
// failures so far: min(initial * multiplier^(failures-1), max).
func (c *Controller) Backoff(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	wait := float64(c.cfg.InitialWait) * math.Pow(c.cfg.Multiplier, float64(failures-1))
	if wait > float64(c.cfg.MaxWait) {
		wait = float64(c.cfg.MaxWait)
	}
	return time.Duration(wait)
}

// Do runs fn under the retry budget of id. Only errors whose kind is
// retryable (network or generic download failure) are re-attempted;
// every other kind returns immediately. Success resets the budget. An
// exhausted budget persists until Reset is called, so a subsequent Do
// for the same id fails without invoking fn again.
func (c *Controller) Do(ctx context.Context, id string, fn func() error) Result {
	st := c.state(id)

	prior := st.Attempts
	for {
		if st.Attempts >= c.cfg.MaxAttempts {
			st.Retrying = false
			return Result{OK: false, Err: st.LastErr, Attempts: st.Attempts}
		}

		err := fn()
		if err == nil {
			used := st.Attempts - prior + 1
			st.Attempts = 0
			st.LastErr = nil
			st.Retrying = false
			return Result{OK: true, Attempts: prior + used}
		}

		st.Attempts++
		st.LastErr = err

		if !errs.IsRetryable(err) || st.Attempts >= c.cfg.MaxAttempts {
			st.Retrying = false
			return Result{OK: false, Err: err, Attempts: st.Attempts}
		}

		st.Retrying = true
		select {
		case <-ctx.Done():
			st.Retrying = false
			return Result{OK: false, Err: ctx.Err(), Attempts: st.Attempts}
		case <-time.After(c.Backoff(st.Attempts)):
		}
	}
}

// CanRetry reports whether id still has budget left.
func (c *Controller) CanRetry(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	if !ok {
		return true
	}
	return st.Attempts < c.cfg.MaxAttempts
}

// Attempts returns the recorded attempt count for id.
func (c *Controller) Attempts(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[id]; ok {
		return st.Attempts
	}
	return 0
}

// Reset zeroes the state for id, restoring the full budget.
func (c *Controller) Reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, id)
}

// Evict drops state entries not touched within maxAge. Abandoned
// operation ids would otherwise accumulate forever.
func (c *Controller) Evict(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, st := range c.states {
		if st.touched.Before(cutoff) {
			delete(c.states, id)
			n++
		}
	}
	return n
}
