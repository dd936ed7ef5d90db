package mesh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/agentfabric/rrsc/internal/registry"
)

func TestFactory_ChannelForPlaintext(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	f := New(nil, false, time.Second)
	ep := &registry.Endpoint{ServiceID: "svc", Address: lis.Addr().String(), UseTLS: false}

	ch, err := f.ChannelFor(context.Background(), ep)
	require.NoError(t, err)
	defer ch.Close()
}

func TestFactory_ChannelForMissingIdentityFailsClosed(t *testing.T) {
	f := New(nil, true, time.Second)
	ep := &registry.Endpoint{ServiceID: "svc", Address: "127.0.0.1:1", UseTLS: true}

	_, err := f.ChannelFor(context.Background(), ep)
	require.Error(t, err)
}
