// Package metrics exposes the name-spaced gauges/counters of spec.md §9:
// `circuit_breaker.<name>.<service>.*` and `health.<service>.*`, backed
// by Prometheus client_golang, plus a periodic InfluxDB snapshot
// exporter. Grounded on the teacher's pkg/circuit observer-callback
// wiring pattern, generalized into a metrics sink that subscribes the
// same way an alerting/logging observer would.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/pkg/circuit"
)

// Registry holds every metric this core emits, namespaced per spec.md §9.
type Registry struct {
	breakerState        *prometheus.GaugeVec
	breakerErrorRate    *prometheus.GaugeVec
	breakerSampleCount  *prometheus.GaugeVec
	breakerFailureCount *prometheus.GaugeVec
	breakerTimeInState  *prometheus.GaugeVec

	healthStatus *prometheus.GaugeVec
	healthUptime *prometheus.GaugeVec
	healthReady  *prometheus.GaugeVec

	filterInvocations *prometheus.CounterVec

	lastEmit   map[string]time.Time
	minInterval time.Duration
}

// New constructs a Registry and registers its collectors against reg
// (pass prometheus.DefaultRegisterer to use the global registry).
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "circuit_breaker", Name: "state",
		}, []string{"name", "service"}),
		breakerErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "circuit_breaker", Name: "error_rate",
		}, []string{"name", "service"}),
		breakerSampleCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "circuit_breaker", Name: "sample_count",
		}, []string{"name", "service"}),
		breakerFailureCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "circuit_breaker", Name: "failure_count",
		}, []string{"name", "service"}),
		breakerTimeInState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "circuit_breaker", Name: "time_in_state_ms",
		}, []string{"name", "service"}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "health", Name: "status",
		}, []string{"service"}),
		healthUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "health", Name: "uptime_seconds",
		}, []string{"service"}),
		healthReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "health", Name: "ready",
		}, []string{"service"}),
		filterInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "content_filter", Name: "invocations_total",
		}, []string{"strategy"}),
		lastEmit:    make(map[string]time.Time),
		minInterval: 5 * time.Second,
	}
	for _, c := range r.collectors() {
		reg.MustRegister(c)
	}
	return r
}

func (r *Registry) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.breakerState, r.breakerErrorRate, r.breakerSampleCount, r.breakerFailureCount, r.breakerTimeInState,
		r.healthStatus, r.healthUptime, r.healthReady,
		r.filterInvocations,
	}
}

// RecordFilterStrategy counts one content-filter invocation by the
// strategy it applied, the Go home for the original's per-strategy
// FilterStats counters — not rate-limited, since these are plain
// counters rather than point-in-time gauges.
func (r *Registry) RecordFilterStrategy(strategy string) {
	r.filterInvocations.WithLabelValues(strategy).Inc()
}

func (r *Registry) rateLimited(key string) bool {
	now := time.Now()
	if last, ok := r.lastEmit[key]; ok && now.Sub(last) < r.minInterval {
		return true
	}
	r.lastEmit[key] = now
	return false
}

// ObserveBreaker returns a circuit.Observer that records every
// transition snapshot, rate-limited to at most once per 5s per key
// (spec.md §9).
func (r *Registry) ObserveBreaker() circuit.Observer {
	return func(ev circuit.TransitionEvent) {
		key := "breaker:" + ev.Key.CircuitName + ":" + ev.Key.ServiceKey
		if r.rateLimited(key) {
			return
		}
		labels := prometheus.Labels{"name": ev.Key.CircuitName, "service": ev.Key.ServiceKey}
		r.breakerState.With(labels).Set(float64(ev.To))
		r.breakerErrorRate.With(labels).Set(ev.Snap.FailureRate)
		r.breakerSampleCount.With(labels).Set(float64(ev.Snap.SampleCount))
		r.breakerFailureCount.With(labels).Set(float64(ev.Snap.FailureCount))
		r.breakerTimeInState.With(labels).Set(float64(time.Since(ev.Snap.LastTransitionAt).Milliseconds()))
	}
}

// ObserveHealth records a health.Info snapshot for service, rate-limited
// to at most once per 5s.
func (r *Registry) ObserveHealth(service string, info health.Info) {
	key := "health:" + service
	if r.rateLimited(key) {
		return
	}
	r.healthStatus.WithLabelValues(service).Set(float64(info.OverallStatus))
	r.healthUptime.WithLabelValues(service).Set(info.Uptime.Seconds())
	ready := 0.0
	if info.Ready {
		ready = 1.0
	}
	r.healthReady.WithLabelValues(service).Set(ready)
}

// Snapshotter is implemented by anything RunInfluxExporter can read a
// health reading from for InfluxDB export.
type Snapshotter interface {
	Info() health.Info
}

// RunInfluxExporter periodically writes health.Info snapshots to
// InfluxDB until ctx is cancelled. writer is an InfluxWriter
// (internal/metrics/influx.go) so this loop never imports the SDK's
// connection setup directly.
func RunInfluxExporter(ctx context.Context, snap Snapshotter, writer InfluxWriter, service string, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			info := snap.Info()
			_ = writer.WriteHealth(ctx, service, info)
		}
	}
}
