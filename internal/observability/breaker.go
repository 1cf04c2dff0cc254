package observability

import (
	"sync"
	"time"

	"github.com/sevigo/reviewcore/internal/pipelineerr"
)

// State is a circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// Breaker is a per-external-dependency circuit breaker: on
// failureThreshold consecutive failures it opens; after coolDown it allows
// one half-open probe; a probe success closes it, a probe failure reopens
// it. Explicitly constructed and injected, never a package-level global.
type Breaker struct {
	mu sync.Mutex

	dependency       string
	failureThreshold int
	coolDown         time.Duration

	state           State
	consecutiveFail int
	openedAt        time.Time
	metrics         *Metrics
}

// NewBreaker constructs a closed breaker for dependency, tripping after
// failureThreshold consecutive failures and probing again after coolDown.
// metrics may be nil (state is not exported to Prometheus in that case).
func NewBreaker(dependency string, failureThreshold int, coolDown time.Duration, metrics *Metrics) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	b := &Breaker{
		dependency:       dependency,
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		metrics:          metrics,
	}
	b.publish()
	return b
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cool-down has elapsed, it transitions to half-open and allows exactly one
// probe through; concurrent callers racing this transition only ever see one
// of them admitted. A CircuitOpen error is returned when the call must be
// rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		return pipelineerr.CircuitOpen(b.dependency)
	case StateOpen:
		if time.Since(b.openedAt) >= b.coolDown {
			b.state = StateHalfOpen
			b.publishLocked()
			return nil
		}
		return pipelineerr.CircuitOpen(b.dependency)
	}
	return nil
}

// Success records a successful call: in half-open it closes the breaker; in
// closed it resets the consecutive-failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail = 0
	if b.state != StateClosed {
		b.state = StateClosed
	}
	b.publishLocked()
}

// Failure records a failed call: in half-open it reopens immediately; in
// closed it trips open once failureThreshold consecutive failures accrue.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trip()
		b.publishLocked()
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold {
		b.trip()
	}
	b.publishLocked()
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.consecutiveFail = 0
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked()
}

func (b *Breaker) publishLocked() {
	if b.metrics == nil || b.metrics.BreakerState == nil {
		return
	}
	b.metrics.BreakerState.WithLabelValues(b.dependency).Set(float64(b.state))
}

// Registry is the process-wide set of breakers, one per external dependency
// (KG, LLM, code-host API), explicitly constructed and passed to stages.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	failureThreshold int
	coolDown         time.Duration
	metrics          *Metrics
}

// NewRegistry builds a breaker registry using the same threshold/cool-down
// for every dependency's BreakerConfig.
func NewRegistry(failureThreshold int, coolDown time.Duration, metrics *Metrics) *Registry {
	return &Registry{
		breakers:         map[string]*Breaker{},
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		metrics:          metrics,
	}
}

// Get returns the breaker for dependency, constructing it on first use.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[dependency]
	if !ok {
		b = NewBreaker(dependency, r.failureThreshold, r.coolDown, r.metrics)
		r.breakers[dependency] = b
	}
	return b
}
