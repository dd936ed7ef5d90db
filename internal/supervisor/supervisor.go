// Package supervisor implements spec.md §4.9: it runs a caller-supplied
// process factory, restarting it with exponential backoff and jitter
// inside a rolling restart budget, publishing Terminated/Failed events
// and an Emergency alert when the budget is exhausted. Grounded on the
// teacher's pkg/circuit backoff-doubling idiom, generalized from a fixed
// breaker backoff to a restart-delay schedule with jitter.
package supervisor

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/agentfabric/rrsc/internal/obslog"
)

// ProcessFactory starts one run of the supervised process. It returns
// when the process terminates (successfully or with an error) or ctx is
// cancelled.
type ProcessFactory func(ctx context.Context) error

// EventKind tags the events a Supervisor publishes.
type EventKind string

const (
	EventTerminated EventKind = "terminated"
	EventFailed     EventKind = "failed"
	EventEmergency  EventKind = "emergency"
)

// Event is published to an observer on process lifecycle transitions.
type Event struct {
	Kind      EventKind
	Name      string
	Err       error
	Restarts  int
	At        time.Time
}

// Observer receives supervisor lifecycle events.
type Observer func(Event)

// Config tunes the restart schedule (spec.md §4.9, §8 scenario 5).
type Config struct {
	MaxRestarts       int
	RestartPeriod     time.Duration
	RestartDelay      time.Duration
	MaxRestartDelay   time.Duration
	JitterFraction    float64 // e.g. 0.1 for ±10%; 0 disables jitter
}

func (c Config) withDefaults() Config {
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	if c.RestartPeriod <= 0 {
		c.RestartPeriod = 10 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 100 * time.Millisecond
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = time.Second
	}
	return c
}

// Supervisor owns one named process's restart lifecycle.
type Supervisor struct {
	name     string
	cfg      Config
	factory  ProcessFactory
	log      *obslog.Logger
	observer Observer
	rng      *rand.Rand

	shutdown <-chan struct{}
}

// New constructs a Supervisor for one process factory. observer may be
// nil. shutdown, if non-nil, is honored immediately between sleeps/runs
// (spec.md §4.9 "Shutdown is received on a broadcast channel").
func New(name string, cfg Config, factory ProcessFactory, log *obslog.Logger, observer Observer, shutdown <-chan struct{}) *Supervisor {
	if log == nil {
		log = obslog.NewNop()
	}
	if observer == nil {
		observer = func(Event) {}
	}
	return &Supervisor{
		name:     name,
		cfg:      cfg.withDefaults(),
		factory:  factory,
		log:      log,
		observer: observer,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		shutdown: shutdown,
	}
}

// Run blocks, running and restarting the process factory per the
// supervisor's restart budget until it succeeds, exhausts the budget, or
// shutdown fires.
func (s *Supervisor) Run(ctx context.Context) {
	var failures []time.Time

	for {
		if s.isShuttingDown() {
			return
		}

		err := s.factory(ctx)
		if err == nil {
			s.observer(Event{Kind: EventTerminated, Name: s.name, At: time.Now()})
			return
		}

		now := time.Now()
		failures = append(failures, now)
		failures = pruneOlderThan(failures, now.Add(-s.cfg.RestartPeriod))

		if len(failures) > s.cfg.MaxRestarts {
			s.observer(Event{Kind: EventFailed, Name: s.name, Err: err, Restarts: len(failures), At: now})
			s.observer(Event{Kind: EventEmergency, Name: s.name, Err: err, Restarts: len(failures), At: now})
			s.log.Error("supervisor exhausted restart budget", obslog.Str("process", s.name), obslog.Int("restarts", len(failures)), obslog.Err(err))
			return
		}

		restartCount := len(failures) - 1
		delay := s.computeDelay(restartCount)
		s.log.Warn("process failed, restarting", obslog.Str("process", s.name), obslog.Err(err), obslog.Dur("delay", delay))

		if !s.sleepOrShutdown(ctx, delay) {
			return
		}
	}
}

// computeDelay is spec.md §4.9: min(restart_delay * 1.5^restart_count,
// max_restart_delay), then ±JitterFraction jitter.
func (s *Supervisor) computeDelay(restartCount int) time.Duration {
	base := float64(s.cfg.RestartDelay) * math.Pow(1.5, float64(restartCount))
	if cap := float64(s.cfg.MaxRestartDelay); base > cap {
		base = cap
	}
	if s.cfg.JitterFraction > 0 {
		jitter := 1 + (s.rng.Float64()*2-1)*s.cfg.JitterFraction
		base *= jitter
	}
	return time.Duration(base)
}

func (s *Supervisor) sleepOrShutdown(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.shutdownChan():
		return false
	}
}

func (s *Supervisor) isShuttingDown() bool {
	select {
	case <-s.shutdownChan():
		return true
	default:
		return false
	}
}

func (s *Supervisor) shutdownChan() <-chan struct{} {
	if s.shutdown == nil {
		return nilShutdown
	}
	return s.shutdown
}

// nilShutdown is a channel that never fires, used when no shutdown
// channel was supplied so select statements still compile uniformly.
var nilShutdown = make(chan struct{})

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
