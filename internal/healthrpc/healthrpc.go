// Package healthrpc exposes the GetHealth() RPC contract of spec.md §6
// over the standard grpc_health_v1.Health service, backed by
// internal/health.Aggregator. The wire enum grpc_health_v1 defines has
// no DEGRADED value, so Check/Watch map our four-level Status down to
// SERVING/NOT_SERVING for generic health-check consumers (load
// balancers, k8s probes); the richer {SERVING, DEGRADED, NOT_SERVING}
// domain spec.md §6 names is built by Server.GetHealth as a Snapshot,
// outside the RPC wire format, since grpc_health_v1 has no field for it.
// internal/adminapi's /healthz reports health.Info directly and does not
// use Snapshot.
package healthrpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/agentfabric/rrsc/internal/health"
)

// Server implements grpc_health_v1.HealthServer over an Aggregator.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer
	agg         *health.Aggregator
	serviceName string
}

// New builds a Server reporting as serviceName.
func New(agg *health.Aggregator, serviceName string) *Server {
	return &Server{agg: agg, serviceName: serviceName}
}

// Check implements the standard unary health probe.
func (s *Server) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if req.GetService() != "" && req.GetService() != s.serviceName {
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	return &grpc_health_v1.HealthCheckResponse{Status: toServingStatus(s.agg.Info().OverallStatus)}, nil
}

// Watch sends the current status, then one status per aggregator sample
// cycle (changed or not), until the client cancels or the aggregator
// closes its subscription.
func (s *Server) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	if req.GetService() != "" && req.GetService() != s.serviceName {
		return status.Error(codes.NotFound, "unknown service")
	}
	sub := s.agg.Subscribe()
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: toServingStatus(s.agg.Info().OverallStatus)}); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case info, ok := <-sub:
			if !ok {
				return nil
			}
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: toServingStatus(info.OverallStatus)}); err != nil {
				return err
			}
		}
	}
}

func toServingStatus(s health.Status) grpc_health_v1.HealthCheckResponse_ServingStatus {
	switch s {
	case health.Healthy, health.Degraded:
		return grpc_health_v1.HealthCheckResponse_SERVING
	case health.Unhealthy, health.Unavailable:
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	default:
		return grpc_health_v1.HealthCheckResponse_UNKNOWN
	}
}

// Snapshot is the full GetHealth() payload of spec.md §6: the
// {SERVING, DEGRADED, NOT_SERVING} status domain and per-dependency
// breakdown grpc_health_v1 has no room for.
type Snapshot struct {
	Healthy       bool              `json:"healthy"`
	ServiceName   string            `json:"service_name"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Status        string            `json:"status"`
	Dependencies  map[string]string `json:"dependencies"`
}

// GetHealth builds the Snapshot described by spec.md §6.
func (s *Server) GetHealth() Snapshot {
	info := s.agg.Info()
	deps := make(map[string]string, len(info.PerDependency))
	for name, sub := range info.PerDependency {
		deps[name] = toDependencyStatus(sub.Status)
	}
	return Snapshot{
		Healthy:       info.OverallStatus == health.Healthy,
		ServiceName:   s.serviceName,
		UptimeSeconds: info.Uptime.Seconds(),
		Status:        toDependencyStatus(info.OverallStatus),
		Dependencies:  deps,
	}
}

func toDependencyStatus(s health.Status) string {
	switch s {
	case health.Healthy:
		return "SERVING"
	case health.Degraded:
		return "DEGRADED"
	default:
		return "NOT_SERVING"
	}
}
