package metrics

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/agentfabric/rrsc/internal/health"
)

// InfluxWriter persists periodic HealthInfo snapshots. Implemented by
// InfluxClient; an interface so RunInfluxExporter stays testable
// without a live server.
type InfluxWriter interface {
	WriteHealth(ctx context.Context, service string, info health.Info) error
}

// InfluxClient writes health snapshots to an InfluxDB bucket using the
// blocking write API, matching the teacher's preference for explicit
// synchronous calls over fire-and-forget batching in its own client
// wrappers.
type InfluxClient struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxClient dials InfluxDB at url using token, writing into
// org/bucket.
func NewInfluxClient(url, token, org, bucket string) *InfluxClient {
	client := influxdb2.NewClient(url, token)
	return &InfluxClient{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

// WriteHealth writes a single health snapshot point for service.
func (c *InfluxClient) WriteHealth(ctx context.Context, service string, info health.Info) error {
	point := influxdb2.NewPointWithMeasurement("health").
		AddTag("service", service).
		AddField("status", int(info.OverallStatus)).
		AddField("ready", info.Ready).
		AddField("uptime_seconds", info.Uptime.Seconds())

	if err := c.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("metrics: write influx point: %w", err)
	}
	return nil
}

// Close releases the underlying InfluxDB client.
func (c *InfluxClient) Close() {
	c.client.Close()
}
