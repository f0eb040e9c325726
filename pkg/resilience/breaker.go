// Package resilience guards calls to out-of-process dependencies.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a Breaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected
	StateHalfOpen              // a limited number of trial calls pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling through while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Options configures a Breaker. Zero fields take the defaults.
type Options struct {
	// Failures is how many consecutive counted failures open the breaker.
	Failures int
	// OpenFor is how long the breaker rejects calls before letting trial calls through.
	OpenFor time.Duration
	// Trials is how many calls may run while half-open.
	Trials int
	// Counts decides whether an error counts as a dependency failure.
	// Nil counts every error.
	Counts func(error) bool
	// OnChange is called with the old and new state, outside the lock.
	OnChange func(from, to State)
}

// Defaults used for zero Options fields.
var Defaults = Options{Failures: 5, OpenFor: 30 * time.Second, Trials: 1}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     Options
	state    State
	failures int
	openedAt time.Time
	trials   int
	now      func() time.Time
}

// New creates a closed breaker.
func New(opts Options) *Breaker {
	if opts.Failures <= 0 {
		opts.Failures = Defaults.Failures
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = Defaults.OpenFor
	}
	if opts.Trials <= 0 {
		opts.Trials = Defaults.Trials
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current moves open to half-open once OpenFor has elapsed. Must hold mu.
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.OpenFor {
		b.state = StateHalfOpen
		b.trials = 0
	}
	return b.state
}

// Do runs f through b and returns its result. A nil breaker calls f directly.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	if b == nil {
		return f(ctx)
	}
	if err := b.admit(); err != nil {
		var zero T
		return zero, err
	}
	out, err := f(ctx)
	b.record(err)
	return out, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.current() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.trials >= b.opts.Trials {
			return ErrOpen
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	if err != nil && (b.opts.Counts == nil || b.opts.Counts(err)) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.Failures {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.trials = 0
		}
	} else {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()

	if from != to && b.opts.OnChange != nil {
		b.opts.OnChange(from, to)
	}
}
