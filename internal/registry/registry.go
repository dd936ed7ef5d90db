// Package registry implements the endpoint registry of spec.md §4.3:
// services map to ordered sets of endpoints, each endpoint pairs with a
// circuit breaker created lazily on first registration. Grounded on the
// teacher's gateway.RateLimiter (one map behind one mutex, insertion-order
// preserved via a slice) scaled up to a two-level service->endpoint map.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfabric/rrsc/pkg/circuit"
)

// Status is an endpoint's admissibility state (spec.md §3).
type Status string

const (
	Healthy    Status = "healthy"
	Degraded   Status = "degraded"
	Unhealthy  Status = "unhealthy"
	Unavailable Status = "unavailable"
	Offline    Status = "offline"
	Unknown    Status = "unknown"
)

// Channel is the opaque transport handle an mTLS factory produces.
// Declared here (not imported from mesh) to avoid a registry<->mesh
// import cycle; mesh.Channel satisfies this interface.
type Channel interface {
	Close() error
}

// Endpoint is one (service_id, address) record (spec.md §3).
type Endpoint struct {
	ServiceID     string
	Address       string
	Status        Status
	Weight        int
	UseTLS        bool
	Metadata      map[string]string
	LastCheckedAt time.Time

	mu            sync.Mutex
	cachedChannel Channel
	inFlight      int64 // outstanding-call counter for LeastConnections
}

func (e *Endpoint) key() string { return e.ServiceID + "|" + e.Address }

// Admissible reports whether this endpoint's status permits routing to
// it (spec.md §3: "status = Unhealthy|Offline ⇒ not admissible").
func (e *Endpoint) Admissible() bool {
	return e.Status != Unhealthy && e.Status != Offline
}

// CachedChannel returns the cached transport channel, if any.
func (e *Endpoint) CachedChannel() Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cachedChannel
}

// SetCachedChannel stores a channel for reuse. Eviction is safe at any
// time (spec.md §3) — the next call simply rebuilds.
func (e *Endpoint) SetCachedChannel(ch Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cachedChannel = ch
}

// InvalidateChannel drops (and closes) any cached channel.
func (e *Endpoint) InvalidateChannel() {
	e.mu.Lock()
	ch := e.cachedChannel
	e.cachedChannel = nil
	e.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
}

// IncInFlight/DecInFlight are exported for the router's LeastConnections
// policy: counters are atomic and incremented before dispatch, decremented
// after outcome recording (spec.md §5).
func (e *Endpoint) IncInFlight() int64 { return atomic.AddInt64(&e.inFlight, 1) }
func (e *Endpoint) DecInFlight()       { atomic.AddInt64(&e.inFlight, -1) }
func (e *Endpoint) InFlight() int64    { return atomic.LoadInt64(&e.inFlight) }

// Registry maps service_id -> ordered set of endpoints, pairing each
// endpoint with a breaker in the shared circuit.Engine.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]*Endpoint
	breakers *circuit.Engine
	// breakerCircuit is the circuit_name used for every endpoint breaker;
	// spec.md §3 keys breakers by (circuit_name, service_key) and this
	// registry always pairs one endpoint to one service_key =
	// "service_id|address".
	breakerCircuit string
}

// New constructs a Registry backed by the given breaker engine.
func New(breakers *circuit.Engine, breakerCircuit string) *Registry {
	if breakerCircuit == "" {
		breakerCircuit = "router"
	}
	return &Registry{
		services:       make(map[string][]*Endpoint),
		breakers:       breakers,
		breakerCircuit: breakerCircuit,
	}
}

func (r *Registry) serviceKey(e *Endpoint) string { return e.ServiceID + "|" + e.Address }

// Register adds (or updates) an endpoint, creating its paired breaker
// lazily (spec.md §4.3). Uniqueness key is (service_id, address).
func (r *Registry) Register(ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[ep.ServiceID]
	for _, existing := range list {
		if existing.Address == ep.Address {
			existing.Status = ep.Status
			existing.Weight = ep.Weight
			existing.UseTLS = ep.UseTLS
			existing.Metadata = ep.Metadata
			existing.LastCheckedAt = ep.LastCheckedAt
			return
		}
	}
	r.services[ep.ServiceID] = append(list, ep)
	// Touching the breaker engine creates the paired breaker lazily.
	r.breakers.GetState(r.breakerCircuit, r.serviceKey(ep))
}

// Deregister removes an endpoint; its paired breaker is left to the
// engine's own lifecycle (breakers are never destroyed while the engine
// is live, spec.md §3), but is no longer reachable through this registry.
func (r *Registry) Deregister(serviceID, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[serviceID]
	for i, ep := range list {
		if ep.Address == address {
			ep.InvalidateChannel()
			r.services[serviceID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// UpdateStatus folds a status transition into the paired breaker
// (spec.md §4.3: Healthy -> record_success, Degraded -> no-op, else
// record_failure).
func (r *Registry) UpdateStatus(serviceID, address string, status Status) {
	r.mu.Lock()
	ep := r.find(serviceID, address)
	if ep != nil {
		ep.Status = status
		ep.LastCheckedAt = time.Now()
	}
	r.mu.Unlock()

	if ep == nil {
		return
	}
	key := r.serviceKey(ep)
	switch status {
	case Healthy:
		r.breakers.RecordSuccess(r.breakerCircuit, key)
	case Degraded:
		// no-op per spec.md §4.3
	default:
		r.breakers.RecordFailure(r.breakerCircuit, key)
	}
}

func (r *Registry) find(serviceID, address string) *Endpoint {
	for _, ep := range r.services[serviceID] {
		if ep.Address == address {
			return ep
		}
	}
	return nil
}

// AllServiceIDs returns every service_id ever registered. A service whose
// endpoints were all deregistered stays listed, with an empty List.
func (r *Registry) AllServiceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for id := range r.services {
		out = append(out, id)
	}
	return out
}

// List returns the ordered endpoints for a service, newest-registration-last.
func (r *Registry) List(serviceID string) []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.services[serviceID]
	out := make([]*Endpoint, len(list))
	copy(out, list)
	return out
}

// BreakerCircuit and ServiceKeyFor expose the (circuit, service_key) pair
// for an endpoint so the router can consult/record against the same
// paired breaker.
func (r *Registry) BreakerCircuit() string { return r.breakerCircuit }

func (r *Registry) ServiceKeyFor(ep *Endpoint) string { return r.serviceKey(ep) }
