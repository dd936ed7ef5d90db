// Package circuit implements the per-key circuit breaker engine of
// spec.md §4.2: sliding-window error tracking, exponential backoff on
// repeated half-open failures, and half-open probing. Grounded on the
// teacher's pkg/circuit/breaker.go (atomic-counter Breaker + mutex-guarded
// BreakerGroup) generalized from a single int32 state word to the full
// Closed/Open/HalfOpen state record spec.md §3 requires.
package circuit

import (
	"sync"
	"time"

	"github.com/agentfabric/rrsc/pkg/window"
)

// Phase is the breaker's lifecycle phase (spec.md §3 "Breaker state").
type Phase int

const (
	Closed Phase = iota
	Open
	HalfOpen
)

func (p Phase) String() string {
	switch p {
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

// Key identifies one breaker: (circuit_name, service_key) per spec.md §3.
type Key struct {
	CircuitName string
	ServiceKey  string
}

// Config is the per-engine breaker configuration (spec.md §4.2). A single
// Engine applies one Config to every breaker key it creates lazily.
type Config struct {
	WindowSize               int
	ErrorThreshold           float64 // p ∈ (0,1]
	MinimumRequests          int     // m
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int // S
	HalfOpenMaxCalls         int // K
	UseErrorPercentage       bool
	MaxBackoff               time.Duration // T_max
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 0.5
	}
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = 1
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = 1
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = c.ResetTimeout
	}
	return c
}

// Snapshot is an immutable view of a breaker's state, handed to
// observers and returned by GetState/GetHealth.
type Snapshot struct {
	Key                      Key
	Phase                    Phase
	SampleCount              int
	SuccessCount             int
	FailureCount             int
	FailureRate              float64
	LastTransitionAt         time.Time
	LastFailureAt            time.Time
	LastSuccessAt            time.Time
	ConsecutiveSuccesses     int
	HalfOpenPermitsRemaining int
	BackoffMultiplier        float64
}

// TransitionEvent is delivered to observers on every phase change.
type TransitionEvent struct {
	Key  Key
	From Phase
	To   Phase
	At   time.Time
	Snap Snapshot
}

// Observer receives transition events. Observers are dispatched
// asynchronously (spec.md §4.2 "Observers") — a slow or panicking
// observer never stalls admission. Errors/panics inside an observer are
// swallowed (spec.md §4.2 "Failure semantics").
type Observer func(TransitionEvent)

type breakerState struct {
	phase                Phase
	win                  *window.Window
	lastTransitionAt     time.Time
	lastFailureAt        time.Time
	lastSuccessAt        time.Time
	consecutiveSuccesses int
	halfOpenPermits      int
	backoffMultiplier    float64
}

type breaker struct {
	key Key
	mu  sync.Mutex
	st  breakerState
}

func newBreaker(key Key, cfg Config) *breaker {
	return &breaker{
		key: key,
		st: breakerState{
			phase:             Closed,
			win:               window.New(cfg.WindowSize),
			lastTransitionAt:  time.Now(),
			backoffMultiplier: 1,
		},
	}
}

// Engine owns every breaker for one circuit namespace, creating them
// lazily on first observation (spec.md §9 "Lazy per-service breakers")
// and dispatching transition callbacks off a bounded worker pool so the
// core never grows an unbounded queue (spec.md §5).
type Engine struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[Key]*breaker

	obsMu     sync.RWMutex
	observers []Observer

	events  chan TransitionEvent
	done    chan struct{}
	workers int
}

// NewEngine constructs an Engine. workers controls the size of the
// dispatch pool (default 4); queueDepth bounds the event channel
// (default 256) — events dropped past that bound are not retried,
// matching "callback failures are swallowed" in spirit.
func NewEngine(cfg Config, workers, queueDepth int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		breakers: make(map[Key]*breaker),
		events:   make(chan TransitionEvent, queueDepth),
		done:     make(chan struct{}),
		workers:  workers,
	}
	for i := 0; i < workers; i++ {
		go e.dispatchLoop()
	}
	return e
}

// Close stops the dispatch workers. Safe to call once.
func (e *Engine) Close() {
	close(e.done)
}

func (e *Engine) dispatchLoop() {
	for {
		select {
		case <-e.done:
			return
		case ev := <-e.events:
			e.obsMu.RLock()
			obs := append([]Observer(nil), e.observers...)
			e.obsMu.RUnlock()
			for _, o := range obs {
				invokeObserver(o, ev)
			}
		}
	}
}

func invokeObserver(o Observer, ev TransitionEvent) {
	defer func() { _ = recover() }()
	o(ev)
}

// Observe registers an observer for every breaker this engine manages.
func (e *Engine) Observe(o Observer) {
	e.obsMu.Lock()
	e.observers = append(e.observers, o)
	e.obsMu.Unlock()
}

func (e *Engine) getOrCreate(key Key) *breaker {
	e.mu.RLock()
	b, ok := e.breakers[key]
	e.mu.RUnlock()
	if ok {
		return b
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.breakers[key]; ok {
		return b
	}
	b = newBreaker(key, e.cfg)
	e.breakers[key] = b
	return b
}

func (e *Engine) effectiveTimeout(st *breakerState) time.Duration {
	d := time.Duration(float64(e.cfg.ResetTimeout) * st.backoffMultiplier)
	if d < e.cfg.ResetTimeout {
		d = e.cfg.ResetTimeout
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return d
}

// Allow decides admission for one call attempt against (circuitName,
// serviceKey). Admission never fails (spec.md §4.2).
func (e *Engine) Allow(circuitName, serviceKey string) bool {
	b := e.getOrCreate(Key{CircuitName: circuitName, ServiceKey: serviceKey})
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st.phase {
	case Closed:
		return true
	case Open:
		if time.Since(b.st.lastTransitionAt) >= e.effectiveTimeout(&b.st) {
			e.transitionLocked(b, HalfOpen)
			b.st.halfOpenPermits--
			return true
		}
		return false
	case HalfOpen:
		if b.st.halfOpenPermits > 0 {
			b.st.halfOpenPermits--
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call outcome.
func (e *Engine) RecordSuccess(circuitName, serviceKey string) {
	b := e.getOrCreate(Key{CircuitName: circuitName, ServiceKey: serviceKey})
	b.mu.Lock()
	defer b.mu.Unlock()

	b.st.win.Push(true)
	b.st.lastSuccessAt = time.Now()

	switch b.st.phase {
	case HalfOpen:
		b.st.consecutiveSuccesses++
		if b.st.consecutiveSuccesses >= e.cfg.HalfOpenSuccessThreshold {
			b.st.win.Reset()
			b.st.backoffMultiplier = 1
			e.transitionLocked(b, Closed)
		}
	case Closed:
		// window already updated above; no phase change on success.
	}
}

// RecordFailure records a failed call outcome.
func (e *Engine) RecordFailure(circuitName, serviceKey string) {
	b := e.getOrCreate(Key{CircuitName: circuitName, ServiceKey: serviceKey})
	b.mu.Lock()
	defer b.mu.Unlock()

	b.st.win.Push(false)
	b.st.lastFailureAt = time.Now()

	switch b.st.phase {
	case Closed:
		tripped := false
		if e.cfg.UseErrorPercentage {
			if b.st.win.Count() >= e.cfg.MinimumRequests && b.st.win.FailureRate() >= e.cfg.ErrorThreshold {
				tripped = true
			}
		} else if b.st.win.Failures() >= e.cfg.MinimumRequests {
			tripped = true
		}
		if tripped {
			e.transitionLocked(b, Open)
		}
	case HalfOpen:
		b.st.backoffMultiplier = minF(b.st.backoffMultiplier*2, 10)
		e.transitionLocked(b, Open)
	}
}

// transitionLocked must be called with b.mu held. It applies phase-entry
// invariants (spec.md §3) and enqueues an async observer dispatch.
func (e *Engine) transitionLocked(b *breaker, to Phase) {
	from := b.st.phase
	if from == to {
		return
	}
	b.st.phase = to
	b.st.lastTransitionAt = time.Now()

	switch to {
	case Closed:
		b.st.consecutiveSuccesses = 0
	case Open:
		b.st.halfOpenPermits = 0
		b.st.consecutiveSuccesses = 0
	case HalfOpen:
		b.st.halfOpenPermits = e.cfg.HalfOpenMaxCalls
		b.st.consecutiveSuccesses = 0
	}

	snap := snapshotLocked(b)
	ev := TransitionEvent{Key: b.key, From: from, To: to, At: b.st.lastTransitionAt, Snap: snap}
	select {
	case e.events <- ev:
	default:
		// queue full: drop. Observation/admission must never block.
	}
}

func snapshotLocked(b *breaker) Snapshot {
	return Snapshot{
		Key:                      b.key,
		Phase:                    b.st.phase,
		SampleCount:              b.st.win.Count(),
		SuccessCount:             b.st.win.Successes(),
		FailureCount:             b.st.win.Failures(),
		FailureRate:              b.st.win.FailureRate(),
		LastTransitionAt:         b.st.lastTransitionAt,
		LastFailureAt:            b.st.lastFailureAt,
		LastSuccessAt:            b.st.lastSuccessAt,
		ConsecutiveSuccesses:     b.st.consecutiveSuccesses,
		HalfOpenPermitsRemaining: b.st.halfOpenPermits,
		BackoffMultiplier:        b.st.backoffMultiplier,
	}
}

// GetState returns a snapshot of one breaker, creating it lazily if it
// has never been observed.
func (e *Engine) GetState(circuitName, serviceKey string) Snapshot {
	b := e.getOrCreate(Key{CircuitName: circuitName, ServiceKey: serviceKey})
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshotLocked(b)
}

// GetHealth returns a snapshot of every breaker this engine has created,
// keyed for the "circuit_breaker.<name>.<service>.*" metrics naming in
// spec.md §9.
func (e *Engine) GetHealth() map[Key]Snapshot {
	e.mu.RLock()
	keys := make([]*breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		keys = append(keys, b)
	}
	e.mu.RUnlock()

	out := make(map[Key]Snapshot, len(keys))
	for _, b := range keys {
		b.mu.Lock()
		out[b.key] = snapshotLocked(b)
		b.mu.Unlock()
	}
	return out
}

// Reset forces one breaker back to Closed with cleared window/backoff.
func (e *Engine) Reset(circuitName, serviceKey string) {
	b := e.getOrCreate(Key{CircuitName: circuitName, ServiceKey: serviceKey})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.win.Reset()
	b.st.backoffMultiplier = 1
	b.st.consecutiveSuccesses = 0
	e.transitionLocked(b, Closed)
}

// ResetAll resets every breaker this engine has created.
func (e *Engine) ResetAll() {
	e.mu.RLock()
	all := make([]Key, 0, len(e.breakers))
	for k := range e.breakers {
		all = append(all, k)
	}
	e.mu.RUnlock()
	for _, k := range all {
		e.Reset(k.CircuitName, k.ServiceKey)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
