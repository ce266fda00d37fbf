package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/onboard/model"
)

// ErrCircuitOpen is returned while the mail relay is considered down.
var ErrCircuitOpen = errors.New("notify: circuit breaker is open")

// BreakerState is the current state of a Breaker.
type BreakerState int

const (
	// BreakerClosed lets every send through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects sends until the cool-down has passed.
	BreakerOpen
	// BreakerHalfOpen lets probe sends through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero values take the defaults.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the breaker (default 5)
	SuccessThreshold int           // probe successes that close it again (default 2)
	CoolDown         time.Duration // time spent open before probing (default 30s)
}

// Breaker wraps a Notifier so that a relay which keeps failing is not
// dialled on every send. It is safe for concurrent use.
type Breaker struct {
	next model.Notifier
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker wraps next.
func NewBreaker(next model.Notifier, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{next: next, cfg: cfg, now: time.Now}
}

// Send delivers n through the wrapped notifier unless the breaker is open.
func (b *Breaker) Send(ctx context.Context, n model.Notification) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := b.next.Send(ctx, n)
	if err != nil && ctx.Err() == nil {
		b.recordFailure()
		return err
	}
	if err == nil {
		b.recordSuccess()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state != BreakerOpen
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	case BreakerHalfOpen:
		// A failed probe reopens immediately.
		b.tripLocked()
	}
}

func (b *Breaker) tripLocked() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}
