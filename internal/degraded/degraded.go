// Package degraded implements spec.md §4.8's named degraded-mode
// registry: a flag set with a severity, and an execute helper that picks
// the degraded path when a mode is active.
package degraded

import (
	"context"
	"sync"

	"github.com/agentfabric/rrsc/internal/health"
)

// Severity ranks how serious a degraded mode is (GLOSSARY).
type Severity int

const (
	Minor Severity = iota
	Moderate
	Severe
	Critical
)

// Registry tracks which named degraded modes are currently active.
type Registry struct {
	mu     sync.RWMutex
	active map[string]Severity
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{active: make(map[string]Severity)}
}

var _ health.DegradedActivator = (*Registry)(nil)

// Activate marks mode active at Minor severity (idempotent).
func (r *Registry) Activate(mode string) { r.ActivateWithSeverity(mode, Minor) }

// ActivateWithSeverity marks mode active at a specific severity.
func (r *Registry) ActivateWithSeverity(mode string, sev Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[mode] = sev
}

// Deactivate clears mode.
func (r *Registry) Deactivate(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, mode)
}

// IsActive reports whether mode is currently active.
func (r *Registry) IsActive(mode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[mode]
	return ok
}

// Severity returns mode's active severity and whether it is active.
func (r *Registry) Severity(mode string) (Severity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sev, ok := r.active[mode]
	return sev, ok
}

// Execute invokes degraded directly if mode is active, otherwise runs
// primary with degraded as its fallback (spec.md §4.8).
func (r *Registry) Execute(ctx context.Context, mode string, primary, degradedFn func(ctx context.Context) (any, error)) (any, error) {
	if r.IsActive(mode) {
		return degradedFn(ctx)
	}
	v, err := primary(ctx)
	if err == nil {
		return v, nil
	}
	return degradedFn(ctx)
}
