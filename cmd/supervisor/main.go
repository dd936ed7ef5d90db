// Command supervisor wires and runs the resilient routing and safety
// core as a single process: the circuit breaker engine, service-mesh
// router, policy engine, health aggregator, discovery loop, and the
// supervisor that restarts the discovery loop, with one shutdown handle
// for teardown. Grounded on the teacher's cmd/gateway/main.go signal-handling
// and graceful-shutdown idiom, generalized from one HTTP server to the
// multi-component lifecycle spec.md §5 describes.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/agentfabric/rrsc/internal/adminapi"
	"github.com/agentfabric/rrsc/internal/authn"
	"github.com/agentfabric/rrsc/internal/bus"
	"github.com/agentfabric/rrsc/internal/config"
	"github.com/agentfabric/rrsc/internal/discovery"
	"github.com/agentfabric/rrsc/internal/health"
	"github.com/agentfabric/rrsc/internal/healthrpc"
	"github.com/agentfabric/rrsc/internal/mesh"
	"github.com/agentfabric/rrsc/internal/metrics"
	"github.com/agentfabric/rrsc/internal/obslog"
	"github.com/agentfabric/rrsc/internal/policy"
	"github.com/agentfabric/rrsc/internal/registry"
	"github.com/agentfabric/rrsc/internal/router"
	"github.com/agentfabric/rrsc/internal/shutdown"
	"github.com/agentfabric/rrsc/internal/statusfile"
	"github.com/agentfabric/rrsc/internal/supervisor"
	"github.com/agentfabric/rrsc/pkg/circuit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load("rrsc")
	log := obslog.New("rrsc")
	defer log.Sync()

	breakers := circuit.NewEngine(circuit.Config{
		WindowSize:               cfg.WindowSize,
		ErrorThreshold:           cfg.ErrorThreshold,
		MinimumRequests:          cfg.MinimumRequests,
		ResetTimeout:             cfg.ResetTimeout,
		HalfOpenSuccessThreshold: cfg.HalfOpenSuccessThreshold,
		HalfOpenMaxCalls:         cfg.HalfOpenMaxCalls,
		UseErrorPercentage:       cfg.UseErrorPercentage,
		MaxBackoff:               cfg.MaxBackoff,
	}, 4, 256)
	defer breakers.Close()

	reg := registry.New(breakers, "router")

	meshFactory := mesh.New(nil, cfg.MTLSEnabled, cfg.ChannelTimeout)
	svcRouter := router.New(reg, breakers, meshFactory, router.RoundRobin)

	policyEngine := policy.New(nil) // content classifier is an external collaborator, not wired by default
	healthAgg := health.New(health.Config{
		CheckInterval: cfg.CheckInterval,
		CheckTimeout:  cfg.CheckTimeout,
		StartupGrace:  cfg.StartupGrace,
		AutoDegrade:   cfg.AutoDegrade,
	}, log, nil, "")

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)
	breakers.Observe(metricsRegistry.ObserveBreaker())

	shutdownHandle := shutdown.New(log, healthAgg, cfg.ShutdownTimeout)

	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		influxClient := metrics.NewInfluxClient(influxURL, os.Getenv("INFLUX_TOKEN"), os.Getenv("INFLUX_ORG"), os.Getenv("INFLUX_BUCKET"))
		influxCtx, stopInflux := context.WithCancel(context.Background())
		go metrics.RunInfluxExporter(influxCtx, healthAgg, influxClient, cfg.ServiceName, 30*time.Second)
		shutdownHandle.RegisterHook(func() { stopInflux(); influxClient.Close() })
	}

	var publisher *bus.Publisher
	if url := os.Getenv("NATS_URL"); url != "" {
		p, err := bus.NewPublisher(bus.Config{
			URL: url, Name: cfg.ServiceName,
			ReconnectWait: time.Second, MaxReconnects: 60, ConnectTimeout: 10 * time.Second,
		}, cfg.ServiceName)
		if err != nil {
			log.Error("connect to event bus failed", zap.Error(err))
		} else {
			publisher = p
			breakers.Observe(publisher.BreakerObserver())
			defer publisher.Close()
		}
	}

	if cfg.StatusFilePath != "" {
		statusCtx, stopStatus := context.WithCancel(context.Background())
		go statusfile.Run(statusCtx, statusfile.New(cfg.StatusFilePath), healthAgg)
		shutdownHandle.RegisterHook(func() { stopStatus() })
	}

	if cfg.DiscoveryURL != "" {
		source, err := discovery.NewEtcdSource([]string{cfg.DiscoveryURL}, "/rrsc/services/")
		if err != nil {
			log.Error("discovery source unavailable", zap.Error(err))
		} else {
			discoveryLoop := discovery.New(source, reg, discovery.Config{
				Interval:               cfg.DiscoveryInterval,
				ChannelRefreshInterval: cfg.ChannelRefreshInterval,
				DeregisterGrace:        cfg.DeregisterGrace,
			}, log)

			discoverySupervisor := supervisor.New("discovery", supervisor.Config{
				MaxRestarts:     cfg.MaxRestarts,
				RestartPeriod:   cfg.RestartPeriod,
				RestartDelay:    cfg.RestartDelay,
				MaxRestartDelay: cfg.MaxRestartDelay,
				JitterFraction:  jitterFraction(cfg.RestartJitter),
			}, func(ctx context.Context) error {
				discoveryLoop.Run(ctx)
				return nil
			}, log, supervisorEventLogger(log), shutdownHandle.Broadcast())

			go discoverySupervisor.Run(context.Background())
		}
	}

	verifier := authn.NewVerifier(os.Getenv("ADMIN_JWT_SECRET"))
	adminServer := adminapi.New(adminapi.Config{RateLimitMax: 300, RateLimitWindow: time.Minute}, policyEngine, healthAgg, verifier)

	healthGRPC := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(healthGRPC, healthrpc.New(healthAgg, cfg.ServiceName))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":9090", Handler: mux}

	go func() {
		log.Info("admin api starting", zap.String("addr", cfg.Host+":"+cfg.Port))
		if err := adminServer.Run(cfg.Host + ":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Error("admin api stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	grpcLis, err := net.Listen("tcp", ":9443")
	if err != nil {
		log.Error("grpc health listener failed", zap.Error(err))
	} else {
		go func() {
			if err := healthGRPC.Serve(grpcLis); err != nil {
				log.Error("grpc health server stopped", zap.Error(err))
			}
		}()
	}

	go healthAgg.Run(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")
	healthGRPC.GracefulStop()
	_ = metricsSrv.Close()
	shutdownHandle.Shutdown()

	_ = svcRouter
	log.Info("shutdown complete")
}

func jitterFraction(enabled bool) float64 {
	if enabled {
		return 0.1
	}
	return 0
}

func supervisorEventLogger(log *obslog.Logger) supervisor.Observer {
	return func(ev supervisor.Event) {
		switch ev.Kind {
		case supervisor.EventEmergency:
			log.Critical("supervised process exhausted restart budget", zap.String("name", ev.Name), zap.Error(ev.Err))
		case supervisor.EventFailed:
			log.Error("supervised process failed", zap.String("name", ev.Name), zap.Error(ev.Err))
		default:
			log.Info("supervised process terminated", zap.String("name", ev.Name), zap.Int("restarts", ev.Restarts))
		}
	}
}
