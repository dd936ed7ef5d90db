// Package mesh builds authenticated transport channels on demand
// (spec.md §4.4). It does not own a breaker — callers (the router)
// compose it with the circuit engine themselves.
package mesh

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/agentfabric/rrsc/internal/ports"
	"github.com/agentfabric/rrsc/internal/registry"
)

// IdentityProvider is the certificate-authority collaborator (spec.md §1
// "credential cryptography details delegated to a certificate authority
// collaborator"). It hands back a client certificate and the CA bundle
// used to verify servers.
type IdentityProvider interface {
	ClientCertificate(ctx context.Context) (tls.Certificate, error)
	CABundle(ctx context.Context) (*x509.CertPool, error)
}

// Channel wraps a gRPC client connection so callers get a uniform handle
// regardless of which transport mode built it.
type Channel struct {
	*grpc.ClientConn
}

func (c *Channel) Close() error { return c.ClientConn.Close() }

var _ registry.Channel = (*Channel)(nil)

// Factory builds Channels for endpoints, optionally attaching mTLS client
// identity (spec.md §4.4).
type Factory struct {
	Identity       IdentityProvider
	MTLSEnabled    bool
	ConnectTimeout time.Duration
}

// New constructs a Factory. connectTimeout <= 0 defaults to 5s per
// spec.md §4.4.
func New(identity IdentityProvider, mtlsEnabled bool, connectTimeout time.Duration) *Factory {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &Factory{Identity: identity, MTLSEnabled: mtlsEnabled, ConnectTimeout: connectTimeout}
}

// ChannelFor builds (or rebuilds) a transport channel for ep, pinning the
// server name to ep.ServiceID (spec.md §4.4). Failures are surfaced as
// KindExternal transport errors so callers map them to breaker failures.
func (f *Factory) ChannelFor(ctx context.Context, ep *registry.Endpoint) (registry.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ConnectTimeout)
	defer cancel()

	creds, err := f.transportCredentials(ctx, ep)
	if err != nil {
		return nil, ports.New(ports.KindExternal, "build_channel", err).WithTarget(ep.ServiceID)
	}

	conn, err := grpc.DialContext(ctx, ep.Address,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, ports.New(ports.KindExternal, "dial", err).WithTarget(ep.ServiceID).WithRetryable(true)
	}
	return &Channel{ClientConn: conn}, nil
}

func (f *Factory) transportCredentials(ctx context.Context, ep *registry.Endpoint) (credentials.TransportCredentials, error) {
	if !ep.UseTLS {
		return insecure.NewCredentials(), nil
	}

	if f.MTLSEnabled {
		if f.Identity == nil {
			return nil, fmt.Errorf("mtls enabled but no identity provider configured")
		}
		cert, err := f.Identity.ClientCertificate(ctx)
		if err != nil {
			return nil, fmt.Errorf("client identity: %w", err)
		}
		pool, err := f.Identity.CABundle(ctx)
		if err != nil {
			return nil, fmt.Errorf("ca bundle: %w", err)
		}
		cfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			ServerName:   ep.ServiceID,
			MinVersion:   tls.VersionTLS12,
		}
		return credentials.NewTLS(cfg), nil
	}

	// server-authenticated TLS only, still pinned to the service name.
	var pool *x509.CertPool
	if f.Identity != nil {
		p, err := f.Identity.CABundle(ctx)
		if err == nil {
			pool = p
		}
	}
	cfg := &tls.Config{RootCAs: pool, ServerName: ep.ServiceID, MinVersion: tls.VersionTLS12}
	return credentials.NewTLS(cfg), nil
}
