// Package libroutine provides a circuit breaker for calls into flaky
// collaborators such as a remote model backend.
package libroutine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("libroutine: circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Routine opens after threshold consecutive failures. Once resetTimeout has
// passed it turns HalfOpen: the next success closes it, the next failure
// reopens it.
type Routine struct {
	mu           sync.Mutex
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	now          func() time.Time
}

func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	if threshold <= 0 {
		threshold = 1
	}
	return &Routine{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed, moving Open to HalfOpen once the
// reset timeout elapsed.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Closed:
		return true
	case Open:
		if r.now().Sub(r.openedAt) >= r.resetTimeout {
			r.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return false
}

// Execute runs fn when the breaker allows it and records the outcome.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		if r.state == HalfOpen || r.failures >= r.threshold {
			r.state = Open
			r.openedAt = r.now()
		}
		return err
	}
	r.failures = 0
	r.state = Closed
	return nil
}

func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Routine) GetThreshold() int { return r.threshold }

func (r *Routine) GetResetTimeout() time.Duration { return r.resetTimeout }

func (r *Routine) ForceOpen() {
	r.mu.Lock()
	r.state = Open
	r.openedAt = r.now()
	r.mu.Unlock()
}

func (r *Routine) ForceClose() {
	r.mu.Lock()
	r.state = Closed
	r.failures = 0
	r.mu.Unlock()
}
