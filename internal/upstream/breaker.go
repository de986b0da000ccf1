package upstream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/metrics"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// Breaker is a sliding-window failure-rate circuit breaker guarding one
// upstream host. While open, fetches short-circuit and the caller serves
// fallback data instead of waiting out another timeout. This is not a retry
// mechanism; a request is never re-issued.
type Breaker struct {
	mu sync.Mutex

	state    State
	upstream string
	logger   *slog.Logger

	// Sliding window implemented as a ring buffer of failure flags.
	window   []bool
	head     int
	count    int
	failures int

	windowSize       int
	failureThreshold float64
	resetTimeout     time.Duration
	halfOpenMax      int

	halfOpenSuccess int
	openedAt        time.Time
}

// NewBreaker creates a failure-rate circuit breaker for the given upstream
// host.
func NewBreaker(upstream string, cfg config.BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		state:            StateClosed,
		upstream:         upstream,
		logger:           logger,
		window:           make([]bool, cfg.WindowSize),
		windowSize:       cfg.WindowSize,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMax:      cfg.HalfOpenMax,
	}
}

// Allow reports whether a fetch may proceed. An open breaker transitions to
// half-open after the reset timeout and lets a probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful fetch.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.recordOutcome(false)
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.halfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure registers a failed fetch (transport error or non-200).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.recordOutcome(true)
		if b.count >= b.windowSize && b.failureRate() >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// recordOutcome writes a result into the ring buffer and maintains the
// running failure count. Must be called with b.mu held.
func (b *Breaker) recordOutcome(failed bool) {
	if b.count == b.windowSize {
		if b.window[b.head] {
			b.failures--
		}
	} else {
		b.count++
	}

	b.window[b.head] = failed
	if failed {
		b.failures++
	}
	b.head = (b.head + 1) % b.windowSize
}

// failureRate returns the current failure ratio. Must be called with b.mu
// held.
func (b *Breaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.BreakerTransitions.WithLabelValues(b.upstream, from.String(), newState.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.upstream).Set(float64(newState))

	b.logger.Info("upstream breaker state change",
		"upstream", b.upstream,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.head = 0
		b.count = 0
		b.failures = 0
		b.halfOpenSuccess = 0
	case StateOpen:
		b.openedAt = time.Now()
		b.halfOpenSuccess = 0
	case StateHalfOpen:
		b.halfOpenSuccess = 0
	}
}
