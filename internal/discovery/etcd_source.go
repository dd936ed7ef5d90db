package discovery

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdSource pulls the discovery payload from an etcd key prefix, one
// JSON-encoded Desc per key (spec.md §4.3 "if configured with a registry
// URL" — here, an etcd endpoint list plays that role).
type EtcdSource struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdSource dials etcd at the given endpoints. Closing the returned
// *EtcdSource's underlying client is the caller's responsibility via Close.
func NewEtcdSource(endpoints []string, prefix string) (*EtcdSource, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	return &EtcdSource{client: cli, prefix: prefix}, nil
}

func (s *EtcdSource) Close() error { return s.client.Close() }

// Fetch lists every key under prefix and decodes each value as a Desc.
func (s *EtcdSource) Fetch(ctx context.Context) ([]Desc, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", s.prefix, err)
	}
	out := make([]Desc, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		descs, err := DecodePayload(wrapSingle(kv.Value))
		if err != nil {
			continue
		}
		out = append(out, descs...)
	}
	return out, nil
}

// wrapSingle lets a single JSON object value be decoded by the list
// decoder DecodePayload reuses for the wire payload shape.
func wrapSingle(v []byte) []byte {
	out := make([]byte, 0, len(v)+2)
	out = append(out, '[')
	out = append(out, v...)
	out = append(out, ']')
	return out
}
