// Package bus provides async event dispatch over NATS (spec.md §9
// "Metrics"/§4.2 "Observers": the breaker and health aggregator publish
// state changes for anything downstream to subscribe to). Grounded on
// the teacher's pkg/messaging.Client (connection wrapper with reconnect
// handlers and a subject-keyed subscription map), trimmed to the
// publish/subscribe surface this core actually needs.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event types this core publishes.
const (
	EventBreakerTransition = "rrsc.circuit.transition"
	EventHealthChanged     = "rrsc.health.changed"
	EventSupervisor        = "rrsc.supervisor"
)

// Envelope wraps every published event with routing/correlation
// metadata, mirroring the teacher's messaging.Event shape.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Publisher wraps a NATS connection for fire-and-forget event dispatch.
type Publisher struct {
	conn   *nats.Conn
	source string

	mu        sync.RWMutex
	connected bool
}

// Config tunes the NATS connection.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// NewPublisher dials NATS and wires reconnect tracking, matching the
// teacher's connection-handler pattern.
func NewPublisher(cfg Config, source string) (*Publisher, error) {
	p := &Publisher{source: source}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) { p.setConnected(true) }),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) { p.setConnected(false) }),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to nats: %w", err)
	}
	p.conn = conn
	p.setConnected(true)
	return p, nil
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// IsConnected reports the publisher's last-known connection state.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Publish marshals data and publishes it on subject as an Envelope of
// eventType. Best-effort: a publish failure is returned, never panics.
func (p *Publisher) Publish(subject, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("bus: marshal event data: %w", err)
	}
	env := Envelope{ID: uuid.New(), Type: eventType, Source: p.source, Timestamp: time.Now(), Data: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	return p.conn.Publish(subject, body)
}

// Subscribe registers a handler for subject, matching the teacher's
// per-subject subscription style.
func (p *Publisher) Subscribe(subject string, handler func(Envelope)) error {
	_, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		handler(env)
	})
	return err
}

// Close drains and closes the underlying connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
