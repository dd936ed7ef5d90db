package bus

import (
	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/pkg/circuit"
)

// BreakerObserver adapts a Publisher into a circuit.Observer, publishing
// every transition to EventBreakerTransition (spec.md §4.2 "Observers").
func (p *Publisher) BreakerObserver() circuit.Observer {
	return func(ev circuit.TransitionEvent) {
		_ = p.Publish(EventBreakerTransition, EventBreakerTransition, breakerTransitionPayload{
			Circuit: ev.Key.CircuitName,
			Service: ev.Key.ServiceKey,
			From:    ev.From.String(),
			To:      ev.To.String(),
		})
	}
}

type breakerTransitionPayload struct {
	Circuit string `json:"circuit"`
	Service string `json:"service"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// PublishHealth publishes an Info snapshot to EventHealthChanged. Wire
// this to health.Aggregator.Subscribe()'s channel.
func (p *Publisher) PublishHealth(info health.Info) error {
	return p.Publish(EventHealthChanged, EventHealthChanged, healthPayload{
		Status: info.OverallStatus.String(),
		Ready:  info.Ready,
	})
}

type healthPayload struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}
