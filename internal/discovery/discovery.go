// Package discovery implements the background reconciliation loop of
// spec.md §4.3: periodically pull a service list from an external
// registry source, diff it against local state, register additions,
// deregister removals, and refresh cached channels. Grounded on the
// teacher's pkg/messaging NATS client reconnect-handling style (small
// struct wrapping an external client, mutex-guarded connected flag) but
// driven here by a ticker that polls a Source (EtcdSource reads a key
// prefix on each Fetch) instead of a pub/sub reconnect callback.
package discovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentfabric/rrsc/internal/obslog"
	"github.com/agentfabric/rrsc/internal/registry"
)

// Desc is one entry in the discovery payload (spec.md §6).
type Desc struct {
	ServiceID string            `json:"service_id"`
	Address   string            `json:"address"`
	Status    string            `json:"status"`
	UseTLS    bool              `json:"use_tls"`
	Metadata  map[string]string `json:"metadata"`
}

// Source is the external registry collaborator. Unknown fields in the
// wire payload are ignored by construction (json.Unmarshal semantics);
// unknown status values are normalized to "unknown" by normalizeStatus.
type Source interface {
	Fetch(ctx context.Context) ([]Desc, error)
}

// Config tunes the loop (spec.md §4.3, §9 OQ2).
type Config struct {
	Interval               time.Duration
	ChannelRefreshInterval time.Duration
	DeregisterGrace        time.Duration
}

// Loop polls Source on Interval and reconciles into Registry.
type Loop struct {
	source   Source
	reg      *registry.Registry
	cfg      Config
	log      *obslog.Logger
	flapping map[string]time.Time // key -> first-missing-seen-at, for DeregisterGrace
}

// New constructs a Loop. log may be nil (defaults to a no-op logger).
func New(source Source, reg *registry.Registry, cfg Config, log *obslog.Logger) *Loop {
	if log == nil {
		log = obslog.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.ChannelRefreshInterval <= 0 {
		cfg.ChannelRefreshInterval = 5 * time.Minute
	}
	return &Loop{source: source, reg: reg, cfg: cfg, log: log, flapping: make(map[string]time.Time)}
}

// Run blocks, reconciling on Interval until ctx is cancelled. Intended to
// be launched as its own supervised task (spec.md §5).
func (l *Loop) Run(ctx context.Context) {
	tick := time.NewTicker(l.cfg.Interval)
	defer tick.Stop()

	var refresh *time.Ticker
	var refreshC <-chan time.Time
	if l.cfg.ChannelRefreshInterval > 0 {
		refresh = time.NewTicker(l.cfg.ChannelRefreshInterval)
		refreshC = refresh.C
		defer refresh.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			l.reconcileOnce(ctx)
		case <-refreshC:
			l.invalidateAllChannels()
		}
	}
}

func (l *Loop) reconcileOnce(ctx context.Context) {
	descs, err := l.source.Fetch(ctx)
	if err != nil {
		// Failures to fetch are logged and do not tear down local state
		// (spec.md §4.3 point 3).
		l.log.Warn("discovery fetch failed", obslog.Err(err))
		return
	}

	seen := make(map[string]bool, len(descs))
	bySvc := make(map[string][]Desc)
	for _, d := range descs {
		d.Status = normalizeStatus(d.Status)
		bySvc[d.ServiceID] = append(bySvc[d.ServiceID], d)
		seen[d.ServiceID+"|"+d.Address] = true
	}

	for svcID, list := range bySvc {
		for _, d := range list {
			l.upsert(svcID, d)
		}
	}
	l.pruneMissing(seen)
}

func (l *Loop) upsert(serviceID string, d Desc) {
	key := serviceID + "|" + d.Address
	delete(l.flapping, key)

	existing := l.reg.List(serviceID)
	for _, ep := range existing {
		if ep.Address == d.Address {
			l.reg.UpdateStatus(serviceID, d.Address, registry.Status(d.Status))
			return
		}
	}
	l.reg.Register(&registry.Endpoint{
		ServiceID: serviceID,
		Address:   d.Address,
		Status:    registry.Status(d.Status),
		UseTLS:    d.UseTLS,
		Metadata:  d.Metadata,
	})
}

func (l *Loop) pruneMissing(seen map[string]bool) {
	for _, ep := range l.reg.AllServiceIDs() {
		for _, e := range l.reg.List(ep) {
			key := ep + "|" + e.Address
			if seen[key] {
				continue
			}
			if l.cfg.DeregisterGrace <= 0 {
				l.reg.Deregister(ep, e.Address)
				continue
			}
			first, ok := l.flapping[key]
			if !ok {
				l.flapping[key] = time.Now()
				continue
			}
			if time.Since(first) >= l.cfg.DeregisterGrace {
				l.reg.Deregister(ep, e.Address)
				delete(l.flapping, key)
			}
		}
	}
}

func (l *Loop) invalidateAllChannels() {
	for _, svc := range l.reg.AllServiceIDs() {
		for _, ep := range l.reg.List(svc) {
			ep.InvalidateChannel()
		}
	}
}

// normalizeStatus maps unknown wire values to "unknown" (spec.md §6).
func normalizeStatus(s string) string {
	switch s {
	case "healthy", "degraded", "unhealthy", "offline", "unknown":
		return s
	default:
		return "unknown"
	}
}

// DecodePayload parses the JSON list form of the discovery payload
// (spec.md §6), used by Source implementations that fetch raw bytes.
func DecodePayload(data []byte) ([]Desc, error) {
	var out []Desc
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
