// Package router implements the service-mesh router and load balancer of
// spec.md §4.5: endpoint selection under a pluggable policy, composed
// with the circuit breaker and the mTLS channel factory. Grounded on the
// teacher's internal/gateway.Gateway (struct wrapping a breaker group and
// a routing table) but generalized from gin HTTP routes to the RPC
// contract spec.md §6 defines.
package router

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/agentfabric/rrsc/internal/ports"
	"github.com/agentfabric/rrsc/internal/registry"
	"github.com/agentfabric/rrsc/pkg/circuit"
)

// Policy selects one endpoint among admissible survivors.
type Policy string

const (
	RoundRobin       Policy = "round_robin"
	Random           Policy = "random"
	WeightedRandom   Policy = "weighted_random"
	LeastConnections Policy = "least_connections"
)

// Request/Response mirror spec.md §6's external RPC contract.
type Request struct {
	ID            string
	TargetService string
	Method        string
	Payload       []byte
	Metadata      map[string]string
}

type Response struct {
	ID       string
	Status   int
	Payload  []byte
	Err      error
	Metadata map[string]string
}

// Invoker performs the actual outbound call over a channel. The router
// never retries (spec.md §4.5 "Contracts") — exactly one Invoker call per
// admitted attempt, exactly one breaker observation per attempt.
type Invoker func(ctx context.Context, ch registry.Channel, req Request) (Response, error)

// ChannelFactory builds transport channels for an endpoint. mesh.Factory
// satisfies this; tests substitute a fake to avoid real network dials.
type ChannelFactory interface {
	ChannelFor(ctx context.Context, ep *registry.Endpoint) (registry.Channel, error)
}

// Router selects endpoints, obtains channels, and records outcomes.
type Router struct {
	reg      *registry.Registry
	breakers *circuit.Engine
	factory  ChannelFactory
	policy   Policy

	cursorsMu sync.Mutex
	cursors   map[string]*uint64
}

// New constructs a Router over reg using the shared breakers engine and
// channel factory.
func New(reg *registry.Registry, breakers *circuit.Engine, factory ChannelFactory, policy Policy) *Router {
	if policy == "" {
		policy = RoundRobin
	}
	return &Router{reg: reg, breakers: breakers, factory: factory, policy: policy, cursors: make(map[string]*uint64)}
}

// Route is the external RPC surface (spec.md §6).
func (r *Router) Route(ctx context.Context, req Request, invoke Invoker) Response {
	endpoints := r.reg.List(req.TargetService)
	if len(endpoints) == 0 {
		return errResponse(req, ports.Newf(ports.KindValidation, "route", "unknown target service %q", req.TargetService))
	}

	ep, err := r.selectEndpoint(req.TargetService, endpoints)
	if err != nil {
		return errResponse(req, err)
	}

	ch, err := r.channelFor(ctx, ep)
	if err != nil {
		r.breakers.RecordFailure(r.reg.BreakerCircuit(), r.reg.ServiceKeyFor(ep))
		return errResponse(req, err)
	}

	ep.IncInFlight()
	defer ep.DecInFlight()

	resp, callErr := invoke(ctx, ch, req)
	key := r.reg.ServiceKeyFor(ep)
	if callErr != nil {
		r.breakers.RecordFailure(r.reg.BreakerCircuit(), key)
		return errResponse(req, ports.New(ports.KindExternal, "invoke", callErr).WithTarget(req.TargetService).WithRetryable(true))
	}
	r.breakers.RecordSuccess(r.reg.BreakerCircuit(), key)

	resp.Metadata = mergeMetadata(req.Metadata, resp.Metadata)
	resp.Metadata["routed_by"] = ep.Address
	resp.Metadata["target_service"] = req.TargetService
	resp.Metadata["status"] = "success"
	resp.ID = req.ID
	return resp
}

// mergeMetadata propagates agent_id, correlation_id, and free-form tags
// from the request (spec.md §6) into the response, without letting the
// request override keys the router itself sets afterward.
func mergeMetadata(req, resp map[string]string) map[string]string {
	out := make(map[string]string, len(req)+len(resp))
	for k, v := range req {
		out[k] = v
	}
	for k, v := range resp {
		out[k] = v
	}
	return out
}

// GetChannel is the direct-use entry point (spec.md §4.5): look up
// endpoints, filter by status and breaker admission, select by policy,
// and hand back a channel. Callers invoke the remote operation themselves
// and must report the outcome via Engine.RecordSuccess/RecordFailure.
func (r *Router) GetChannel(ctx context.Context, serviceID string) (registry.Channel, *registry.Endpoint, error) {
	endpoints := r.reg.List(serviceID)
	if len(endpoints) == 0 {
		return nil, nil, ports.ErrNoAvailableEndpoint.WithTarget(serviceID)
	}
	ep, err := r.selectEndpoint(serviceID, endpoints)
	if err != nil {
		return nil, nil, err
	}
	ch, err := r.channelFor(ctx, ep)
	if err != nil {
		return nil, nil, err
	}
	return ch, ep, nil
}

func (r *Router) channelFor(ctx context.Context, ep *registry.Endpoint) (registry.Channel, *ports.Error) {
	if cached := ep.CachedChannel(); cached != nil {
		return cached, nil
	}
	ch, err := r.factory.ChannelFor(ctx, ep)
	if err != nil {
		var pe *ports.Error
		if !asPortsError(err, &pe) {
			pe = ports.New(ports.KindExternal, "build_channel", err).WithTarget(ep.ServiceID).WithRetryable(true)
		}
		return nil, pe
	}
	ep.SetCachedChannel(ch)
	return ch, nil
}

func asPortsError(err error, out **ports.Error) bool {
	pe, ok := err.(*ports.Error)
	if ok {
		*out = pe
	}
	return ok
}

// selectEndpoint implements spec.md §4.5 steps 2-4: filter by status,
// filter by breaker admission, pick one by policy.
func (r *Router) selectEndpoint(serviceID string, endpoints []*registry.Endpoint) (*registry.Endpoint, *ports.Error) {
	survivors := make([]*registry.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if !ep.Admissible() {
			continue
		}
		if !r.breakers.Allow(r.reg.BreakerCircuit(), r.reg.ServiceKeyFor(ep)) {
			continue
		}
		survivors = append(survivors, ep)
	}
	if len(survivors) == 0 {
		return nil, ports.ErrNoAvailableEndpoint.WithTarget(serviceID)
	}

	switch r.policy {
	case Random:
		return survivors[rand.Intn(len(survivors))], nil
	case WeightedRandom:
		return r.pickWeighted(survivors), nil
	case LeastConnections:
		return r.pickLeastConnections(survivors), nil
	default:
		return r.pickRoundRobin(serviceID, survivors), nil
	}
}

func (r *Router) pickRoundRobin(serviceID string, survivors []*registry.Endpoint) *registry.Endpoint {
	r.cursorsMu.Lock()
	c, ok := r.cursors[serviceID]
	if !ok {
		var zero uint64
		c = &zero
		r.cursors[serviceID] = c
	}
	r.cursorsMu.Unlock()

	idx := atomic.AddUint64(c, 1) - 1
	return survivors[idx%uint64(len(survivors))]
}

func (r *Router) pickWeighted(survivors []*registry.Endpoint) *registry.Endpoint {
	total := 0
	for _, ep := range survivors {
		total += ep.Weight
	}
	if total <= 0 {
		return survivors[rand.Intn(len(survivors))]
	}
	pick := rand.Intn(total)
	cum := 0
	for _, ep := range survivors {
		cum += ep.Weight
		if pick < cum {
			return ep
		}
	}
	return survivors[len(survivors)-1]
}

func (r *Router) pickLeastConnections(survivors []*registry.Endpoint) *registry.Endpoint {
	best := survivors[0]
	for _, ep := range survivors[1:] {
		if ep.InFlight() < best.InFlight() {
			best = ep
		}
	}
	return best
}

func errResponse(req Request, err *ports.Error) Response {
	md := mergeMetadata(req.Metadata, nil)
	md["status"] = "error"
	return Response{ID: req.ID, Status: statusFor(err.Kind), Err: err, Metadata: md}
}

func statusFor(kind ports.Kind) int {
	switch kind {
	case ports.KindValidation:
		return 400
	case ports.KindAuthentication:
		return 401
	case ports.KindPermissionDenied:
		return 403
	case ports.KindNotFound:
		return 404
	case ports.KindTimeout:
		return 504
	case ports.KindRateLimit:
		return 429
	case ports.KindUnavailable, ports.KindExternal:
		return 503
	default:
		return 500
	}
}
