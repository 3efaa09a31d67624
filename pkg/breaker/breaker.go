// Package breaker implements a three-state circuit breaker used to stop
// hammering the listing source API during an outage.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
)

// State is the breaker state.
type State int

const (
	// Closed lets calls through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls immediately until the cooldown elapses.
	Open
	// HalfOpen lets a single probe call through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is safe for concurrent use by scanner workers.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *zap.Logger
	onChange  func(State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback invoked after every state transition.
func WithStateChange(fn func(State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New returns a closed breaker that opens after threshold consecutive
// failures and probes again after cooldown.
func New(threshold int, cooldown time.Duration, logger *zap.Logger, opts ...Option) *Breaker {
	b := &Breaker{
		state:     Closed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger.Named("breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn under the breaker. While open it returns
// apperrors.ErrCircuitOpen without invoking fn. The first call after the
// cooldown runs as a half-open probe: success closes the breaker, failure
// re-opens it for another full cooldown.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// State returns the current state, advancing open to half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transition(HalfOpen)
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return apperrors.ErrCircuitOpen
		}
		b.transition(HalfOpen)
		return nil
	case HalfOpen:
		// One probe in flight at a time.
		return apperrors.ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != Closed {
			b.logger.Info("circuit closed after successful probe")
		}
		b.failures = 0
		b.transition(Closed)
		return
	}

	if b.state == HalfOpen {
		b.openedAt = b.now()
		b.transition(Open)
		b.logger.Warn("probe failed, circuit re-opened",
			zap.Duration("cooldown", b.cooldown))
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(Open)
		b.logger.Warn("circuit opened",
			zap.Int("consecutive_failures", b.failures),
			zap.Duration("cooldown", b.cooldown))
	}
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.state = next
	if next == Closed {
		b.failures = 0
	}
	if b.onChange != nil {
		b.onChange(next)
	}
}
