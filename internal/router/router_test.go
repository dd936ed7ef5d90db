package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/ports"
	"github.com/agentfabric/rrsc/internal/registry"
	"github.com/agentfabric/rrsc/pkg/circuit"
)

type fakeChannel struct{ closed bool }

func (f *fakeChannel) Close() error { f.closed = true; return nil }

type fakeFactory struct{ calls int }

func (f *fakeFactory) ChannelFor(ctx context.Context, ep *registry.Endpoint) (registry.Channel, error) {
	f.calls++
	return &fakeChannel{}, nil
}

func newTestEngine(t *testing.T) *circuit.Engine {
	t.Helper()
	engine := circuit.NewEngine(circuit.Config{MinimumRequests: 1, ErrorThreshold: 0.5}, 1, 8)
	t.Cleanup(engine.Close)
	return engine
}

// scenario 4: A(Healthy), B(Offline), C(Healthy, breaker Open); RoundRobin
// starting cursor 0 must pick A deterministically.
func TestRouter_SelectEndpoint_AdmissibilityAndRoundRobin(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")

	a := &registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Healthy}
	b := &registry.Endpoint{ServiceID: "svc", Address: "b:1", Status: registry.Offline}
	c := &registry.Endpoint{ServiceID: "svc", Address: "c:1", Status: registry.Healthy}
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)

	// Force C's breaker open by recording enough failures.
	for i := 0; i < 10; i++ {
		engine.RecordFailure("router", reg.ServiceKeyFor(c))
	}
	require.Equal(t, circuit.Open, engine.GetState("router", reg.ServiceKeyFor(c)).Phase)

	r := New(reg, engine, &fakeFactory{}, RoundRobin)
	ep, err := r.selectEndpoint("svc", reg.List("svc"))
	require.Nil(t, err)
	assert.Equal(t, "a:1", ep.Address)
}

func TestRouter_SelectEndpoint_NoAvailableEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	reg.Register(&registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Offline})

	r := New(reg, engine, &fakeFactory{}, RoundRobin)
	_, err := r.selectEndpoint("svc", reg.List("svc"))
	require.NotNil(t, err)
	assert.Equal(t, ports.KindUnavailable, err.Kind)
}

func TestRouter_WeightedRandom_ZeroWeightFallsBackToUniform(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	reg.Register(&registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Healthy, Weight: 0})
	reg.Register(&registry.Endpoint{ServiceID: "svc", Address: "b:1", Status: registry.Healthy, Weight: 0})

	r := New(reg, engine, &fakeFactory{}, WeightedRandom)
	for i := 0; i < 20; i++ {
		ep, err := r.selectEndpoint("svc", reg.List("svc"))
		require.Nil(t, err)
		assert.Contains(t, []string{"a:1", "b:1"}, ep.Address)
	}
}

func TestRouter_LeastConnections_PicksLowestInFlight(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	a := &registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Healthy}
	b := &registry.Endpoint{ServiceID: "svc", Address: "b:1", Status: registry.Healthy}
	reg.Register(a)
	reg.Register(b)
	a.IncInFlight()
	a.IncInFlight()

	r := New(reg, engine, &fakeFactory{}, LeastConnections)
	ep, err := r.selectEndpoint("svc", reg.List("svc"))
	require.Nil(t, err)
	assert.Equal(t, "b:1", ep.Address)
}

func TestRouter_GetChannel_CachesAndReuses(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	reg.Register(&registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Healthy})

	factory := &fakeFactory{}
	r := New(reg, engine, factory, RoundRobin)

	ch1, ep1, err := r.GetChannel(context.Background(), "svc")
	require.NoError(t, err)
	require.NotNil(t, ch1)

	ch2, ep2, err := r.GetChannel(context.Background(), "svc")
	require.NoError(t, err)
	assert.Same(t, ep1, ep2)
	assert.Equal(t, ch1, ch2)
	assert.Equal(t, 1, factory.calls) // second call hit the cache, no second dial
}

func TestRouter_GetChannel_UnknownService(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	r := New(reg, engine, &fakeFactory{}, RoundRobin)

	_, _, err := r.GetChannel(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, ports.KindUnavailable, ports.KindOf(err))
}

func TestRouter_Route_RecordsSuccessAndFailure(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	reg.Register(&registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Healthy})
	r := New(reg, engine, &fakeFactory{}, RoundRobin)

	okResp := r.Route(context.Background(), Request{ID: "1", TargetService: "svc"},
		func(ctx context.Context, ch registry.Channel, req Request) (Response, error) {
			return Response{}, nil
		})
	assert.Equal(t, "success", okResp.Metadata["status"])

	failResp := r.Route(context.Background(), Request{ID: "2", TargetService: "svc"},
		func(ctx context.Context, ch registry.Channel, req Request) (Response, error) {
			return Response{}, assertErr
		})
	assert.Equal(t, "error", failResp.Metadata["status"])
}

func TestRouter_Route_PropagatesRequestMetadataOnSuccess(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	reg.Register(&registry.Endpoint{ServiceID: "svc", Address: "a:1", Status: registry.Healthy})
	r := New(reg, engine, &fakeFactory{}, RoundRobin)

	req := Request{ID: "1", TargetService: "svc", Metadata: map[string]string{
		"agent_id":       "agent-7",
		"correlation_id": "corr-1",
		"team":           "platform",
	}}
	resp := r.Route(context.Background(), req,
		func(ctx context.Context, ch registry.Channel, req Request) (Response, error) {
			return Response{}, nil
		})

	assert.Equal(t, "agent-7", resp.Metadata["agent_id"])
	assert.Equal(t, "corr-1", resp.Metadata["correlation_id"])
	assert.Equal(t, "platform", resp.Metadata["team"])
	assert.Equal(t, "success", resp.Metadata["status"])
	assert.Equal(t, "a:1", resp.Metadata["routed_by"])
}

func TestRouter_Route_PropagatesRequestMetadataOnFailure(t *testing.T) {
	engine := newTestEngine(t)
	reg := registry.New(engine, "router")
	r := New(reg, engine, &fakeFactory{}, RoundRobin)

	req := Request{ID: "1", TargetService: "missing", Metadata: map[string]string{
		"agent_id":       "agent-7",
		"correlation_id": "corr-1",
	}}
	resp := r.Route(context.Background(), req, nil)

	assert.Equal(t, "agent-7", resp.Metadata["agent_id"])
	assert.Equal(t, "corr-1", resp.Metadata["correlation_id"])
	assert.Equal(t, "error", resp.Metadata["status"])
}

var assertErr = assertError("invoke failed")

type assertError string

func (e assertError) Error() string { return string(e) }
