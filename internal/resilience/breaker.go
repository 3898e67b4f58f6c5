// Package resilience provides a circuit breaker gating outbound delivery.
//
// When the collection backend fails repeatedly, the breaker opens and the
// transport drops batches immediately instead of burning its retry budget
// against a dead endpoint. After a cooldown a single probe is allowed through;
// its outcome closes or re-opens the circuit.
package resilience

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures breaker behavior.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe.
	// Defaults to 30 seconds.
	Cooldown time.Duration
	// OnStateChange is called whenever the state changes.
	OnStateChange func(from, to State)
}

// Breaker implements the circuit breaker pattern for batch sends.
type Breaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker with the given settings.
func New(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	return &Breaker{settings: settings, state: StateClosed}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(time.Now())
	return b.state
}

// Allow reports whether a send may proceed. In the half-open state only one
// probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh(time.Now())

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// Record reports the outcome of a send previously admitted by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if success {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
		b.openedAt = time.Now()
		b.setState(StateOpen)
	}
}

// refresh transitions open to half-open once the cooldown elapses. Caller
// holds the lock.
func (b *Breaker) refresh(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.Cooldown {
		b.setState(StateHalfOpen)
	}
}

// setState changes state and fires the callback. Caller holds the lock.
func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(prev, state)
	}
}
