// Package resilience guards calls to upstream services the producers depend on.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker opens after a run of consecutive upstream failures and rejects
// calls until the cool-down elapses. In half-open state a single trial call
// is let through; its outcome closes or re-opens the circuit.
//
// A call that fails because its own context was cancelled says nothing about
// the upstream and leaves the counters untouched.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for cooldown. maxFailures < 1 is treated as 1.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	switch {
	case err == nil:
		b.failures = 0
		b.setState(StateClosed)
	case ctx.Err() != nil:
		// Caller gave up; not an upstream verdict.
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.setState(StateOpen)
		}
	}
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.setState(StateHalfOpen)
	}
	switch b.state {
	case StateOpen:
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	case StateHalfOpen:
		if b.trial {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.trial = true
	}
	return nil
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	slog.Info("circuit breaker state changed", "breaker", b.name, "from", b.state, "to", s, "failures", b.failures)
	b.state = s
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Probe reports an error while the circuit is open, for health checks.
func (b *Breaker) Probe(context.Context) error {
	if s := b.State(); s == StateOpen {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return nil
}
