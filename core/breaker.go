package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed means calls pass through normally
	BreakerClosed BreakerState = "closed"
	// BreakerOpen means calls fail immediately
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen means a limited number of probe calls are allowed
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned when the breaker is open
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrBreakerBusy is returned when the half-open probe budget is spent
	ErrBreakerBusy = errors.New("circuit breaker half-open budget exhausted")
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// MaxProbes is the number of concurrent calls allowed while half-open.
	MaxProbes uint32
}

// Validate checks the breaker configuration.
func (c *BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("Cooldown must be greater than 0")
	}
	if c.MaxProbes == 0 {
		return errors.New("MaxProbes must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns the tuning used for best-effort backends
// (mirror, stores, webhooks) unless config overrides it.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		MaxProbes:   1,
	}
}

// Breaker guards calls to a backend that may be down so best-effort writes
// stop hammering it. Callers check Allow before the call and report the
// outcome with RecordSuccess or RecordFailure.
type Breaker struct {
	config   BreakerConfig
	state    BreakerState
	failures uint32
	openedAt time.Time
	probes   uint32
	mu       sync.Mutex
}

// NewBreaker creates a closed breaker, validating the config.
func NewBreaker(config BreakerConfig) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breaker config: %w", err)
	}
	return &Breaker{
		config: config,
		state:  BreakerClosed,
	}, nil
}

// MustNewBreaker is NewBreaker for hardcoded configs that are known valid.
// It panics on an invalid config.
func MustNewBreaker(config BreakerConfig) *Breaker {
	b, err := NewBreaker(config)
	if err != nil {
		panic(err)
	}
	return b
}

// Allow reports whether a call may proceed. While open it returns
// ErrBreakerOpen until the cooldown elapses, then admits probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(b.openedAt) > b.config.Cooldown {
			b.state = BreakerHalfOpen
			b.probes = 0
		} else {
			return ErrBreakerOpen
		}
		fallthrough

	case BreakerHalfOpen:
		if b.probes >= b.config.MaxProbes {
			return ErrBreakerBusy
		}
		b.probes++
		return nil

	default:
		return nil
	}
}

// RecordSuccess notes a successful call. A success while half-open closes
// the circuit. Returns the state before and after for logging.
func (b *Breaker) RecordSuccess() (oldState, newState BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState = b.state
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		b.state = BreakerClosed
		b.failures = 0
		b.probes = 0
	}
	newState = b.state
	return
}

// RecordFailure notes a failed call. Enough consecutive failures open the
// circuit; any failure while half-open reopens it. Returns the state before
// and after for logging.
func (b *Breaker) RecordFailure() (oldState, newState BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState = b.state
	b.openedAt = time.Now()
	b.failures++

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.MaxFailures {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		b.state = BreakerOpen
		b.probes = 0
	}
	newState = b.state
	return
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
