// Package health implements the health aggregator of spec.md §4.7:
// periodic concurrent checks, consecutive-failure thresholds, required
// dependency roll-up, and degraded-mode signaling on precedence-raising
// transitions. No teacher package runs a comparable ticker-driven
// fan-out; this is built fresh on golang.org/x/sync/errgroup to run
// named checks concurrently on each tick.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentfabric/rrsc/internal/obslog"
)

// Status is a health precedence level (spec.md §3: "Healthy < Degraded <
// Unhealthy < Unavailable"; Starting/ShuttingDown override derivation).
type Status int

const (
	Healthy Status = iota
	Degraded
	Unhealthy
	Unavailable
	Starting
	ShuttingDown
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	case Unavailable:
		return "unavailable"
	case Starting:
		return "starting"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// precedence ranks Healthy < Degraded < Unhealthy < Unavailable; Starting
// and ShuttingDown are not part of the ranked derivation — they override it.
func precedence(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unavailable:
		return 3
	default:
		return -1
	}
}

func worse(a, b Status) Status {
	if precedence(b) > precedence(a) {
		return b
	}
	return a
}

// CheckFunc is a named async health check. required marks it as a
// dependency whose failure is folded in at Unhealthy (spec.md §4.7).
type CheckFunc func(ctx context.Context) (Status, error)

type checkEntry struct {
	name                 string
	fn                   CheckFunc
	required             bool
	failureThreshold     int
	consecutiveFailures  int
	lastStatus           Status
	everSucceeded        bool
}

// SubCheck is one check's last-observed status, exposed via Info.
type SubCheck struct {
	Status Status
	Err    string
}

// Info is the health snapshot of spec.md §3.
type Info struct {
	OverallStatus Status
	PerCheck      map[string]SubCheck
	PerDependency map[string]SubCheck
	Ready         bool
	Uptime        time.Duration
	LastError     string
}

// Config tunes the aggregator loop (spec.md §4.7).
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	StartupGrace  time.Duration
	AutoDegrade   bool
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 5 * time.Second
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = 30 * time.Second
	}
	return c
}

// DegradedActivator is notified when the aggregator crosses a precedence
// boundary, so the caller can wire a named degraded mode (spec.md §4.7,
// §4.8).
type DegradedActivator interface {
	Activate(mode string)
	Deactivate(mode string)
}

// Aggregator runs registered checks on a ticker and derives overall status.
type Aggregator struct {
	cfg       Config
	log       *obslog.Logger
	activator DegradedActivator
	degradedMode string

	mu          sync.Mutex
	checks      []*checkEntry
	startedAt   time.Time
	shuttingDown bool
	override    *Status
	subscribers []chan Info
	lastOverall Status
	lastErr     string
}

// New constructs an Aggregator. activator/degradedMode may be nil/empty
// if auto_degrade is not used.
func New(cfg Config, log *obslog.Logger, activator DegradedActivator, degradedMode string) *Aggregator {
	if log == nil {
		log = obslog.NewNop()
	}
	return &Aggregator{
		cfg:          cfg.withDefaults(),
		log:          log,
		activator:    activator,
		degradedMode: degradedMode,
		lastOverall:  Starting,
	}
}

// RegisterCheck adds a named check. failureThreshold <= 0 defaults to 1
// (fail on first observed failure).
func (a *Aggregator) RegisterCheck(name string, required bool, failureThreshold int, fn CheckFunc) {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, &checkEntry{name: name, fn: fn, required: required, failureThreshold: failureThreshold, lastStatus: Starting})
}

// Subscribe returns a channel receiving an Info snapshot on every sample
// cycle (spec.md §6: status snapshots are written "on every cycle"). The
// channel is buffered; a slow subscriber drops the oldest entry rather
// than blocking the aggregator loop.
func (a *Aggregator) Subscribe() <-chan Info {
	ch := make(chan Info, 8)
	a.mu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.mu.Unlock()
	return ch
}

// Override forces the aggregator's reported status until Clear is called.
func (a *Aggregator) Override(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.override = &s
}

// ClearOverride removes a prior manual override.
func (a *Aggregator) ClearOverride() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.override = nil
}

// MarkShuttingDown flips the aggregator to ShuttingDown, overriding
// further derivation (spec.md §4.10 step 1).
func (a *Aggregator) MarkShuttingDown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shuttingDown = true
}

// Run blocks, sampling checks on CheckInterval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.mu.Lock()
	a.startedAt = time.Now()
	a.mu.Unlock()

	tick := time.NewTicker(a.cfg.CheckInterval)
	defer tick.Stop()

	a.sample(ctx) // first sample immediately so Info is never empty
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			a.sample(ctx)
		}
	}
}

func (a *Aggregator) sample(ctx context.Context) {
	a.mu.Lock()
	entries := append([]*checkEntry(nil), a.checks...)
	a.mu.Unlock()

	results := make([]Status, len(entries))
	errs := make([]error, len(entries))

	grp, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		i, entry := i, entry
		grp.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.cfg.CheckTimeout)
			defer cancel()
			st, err := entry.fn(cctx)
			results[i] = st
			errs[i] = err
			return nil // a check's own failure never aborts the group; it's folded below
		})
	}
	_ = grp.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr string
	overall := Healthy
	anyRun := len(entries) > 0
	allEverSucceeded := true

	for i, entry := range entries {
		st := results[i]
		if errs[i] != nil {
			lastErr = errs[i].Error()
			st = Unhealthy
		}
		if st == Healthy || st == Degraded {
			entry.consecutiveFailures = 0
			entry.everSucceeded = true
		} else {
			entry.consecutiveFailures++
		}
		if !entry.everSucceeded {
			allEverSucceeded = false
		}

		effective := st
		if st != Healthy && st != Degraded && entry.consecutiveFailures < entry.failureThreshold {
			effective = Degraded // below threshold: degraded, not failed (spec.md §4.7)
		}
		if entry.required && (effective == Unhealthy || effective == Unavailable) {
			effective = Unhealthy
		}
		entry.lastStatus = effective
		overall = worse(overall, effective)
	}

	startingGrace := time.Since(a.startedAt) < a.cfg.StartupGrace
	switch {
	case a.shuttingDown:
		overall = ShuttingDown
	case a.override != nil:
		overall = *a.override
	case anyRun && !allEverSucceeded && startingGrace:
		overall = Starting
	case !anyRun && startingGrace:
		overall = Starting
	}

	info := a.snapshotLocked(overall, lastErr)
	crossedBoundary := precedence(overall) != precedence(a.lastOverall) || (overall == Healthy && a.lastOverall != Healthy)
	prevOverall := a.lastOverall
	a.lastOverall = overall
	a.lastErr = lastErr

	// Publish every cycle, not just on a precedence transition, so a
	// subscribed status-file writer keeps refreshing its snapshot even
	// while overall status holds steady.
	a.publishLocked(info)
	if crossedBoundary {
		a.applyDegradedModeLocked(prevOverall, overall)
	}
}

func (a *Aggregator) applyDegradedModeLocked(prev, next Status) {
	if !a.cfg.AutoDegrade || a.activator == nil || a.degradedMode == "" {
		return
	}
	wasDegraded := precedence(prev) >= precedence(Degraded)
	isDegraded := precedence(next) >= precedence(Degraded)
	if isDegraded && !wasDegraded {
		a.activator.Activate(a.degradedMode)
	} else if !isDegraded && wasDegraded {
		a.activator.Deactivate(a.degradedMode)
	}
}

func (a *Aggregator) publishLocked(info Info) {
	for _, ch := range a.subscribers {
		select {
		case ch <- info:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- info:
			default:
			}
		}
	}
}

func (a *Aggregator) snapshotLocked(overall Status, lastErr string) Info {
	perCheck := make(map[string]SubCheck, len(a.checks))
	perDependency := make(map[string]SubCheck)
	for _, entry := range a.checks {
		sc := SubCheck{Status: entry.lastStatus}
		if entry.required {
			perDependency[entry.name] = sc
		} else {
			perCheck[entry.name] = sc
		}
	}
	ready := overall == Healthy || overall == Degraded
	return Info{
		OverallStatus: overall,
		PerCheck:      perCheck,
		PerDependency: perDependency,
		Ready:         ready,
		Uptime:        time.Since(a.startedAt),
		LastError:     lastErr,
	}
}

// Info returns the current snapshot without waiting for the next tick.
func (a *Aggregator) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(a.lastOverall, a.lastErr)
}
