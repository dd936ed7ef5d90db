package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/pkg/circuit"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRegistry_ObserveBreaker_RecordsAndRateLimits(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	obs := r.ObserveBreaker()

	key := circuit.Key{CircuitName: "router", ServiceKey: "svc-a"}
	ev := circuit.TransitionEvent{
		Key: key, From: circuit.Closed, To: circuit.Open, At: time.Now(),
		Snap: circuit.Snapshot{FailureRate: 0.7, SampleCount: 10, FailureCount: 7, LastTransitionAt: time.Now()},
	}
	obs(ev)
	assert.Equal(t, float64(circuit.Open), gaugeValue(t, r.breakerState.WithLabelValues("router", "svc-a")))
	assert.InDelta(t, 0.7, gaugeValue(t, r.breakerErrorRate.WithLabelValues("router", "svc-a")), 0.001)

	ev2 := ev
	ev2.Snap.FailureRate = 0.9
	obs(ev2)
	assert.InDelta(t, 0.7, gaugeValue(t, r.breakerErrorRate.WithLabelValues("router", "svc-a")), 0.001,
		"second observation within the rate-limit window should be dropped")
}

func TestRegistry_ObserveHealth_RecordsSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.ObserveHealth("svc-a", health.Info{OverallStatus: health.Degraded, Ready: true, Uptime: 5 * time.Second})

	assert.Equal(t, float64(health.Degraded), gaugeValue(t, r.healthStatus.WithLabelValues("svc-a")))
	assert.Equal(t, 1.0, gaugeValue(t, r.healthReady.WithLabelValues("svc-a")))
}

type fakeSnapshotter struct{ info health.Info }

func (f fakeSnapshotter) Info() health.Info { return f.info }

type fakeInfluxWriter struct{ calls int }

func (f *fakeInfluxWriter) WriteHealth(ctx context.Context, service string, info health.Info) error {
	f.calls++
	return nil
}

func TestRunInfluxExporter_WritesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	writer := &fakeInfluxWriter{}
	RunInfluxExporter(ctx, fakeSnapshotter{info: health.Info{OverallStatus: health.Healthy}}, writer, "svc-a", 5*time.Millisecond)

	assert.Greater(t, writer.calls, 0)
}
