// Package config loads process configuration from the environment,
// generalizing the teacher's cmd/gateway/main.go loadConfig/getEnv
// pattern into the shape spec.md §6 requires: <SERVICE>_SERVICE_PORT
// overrides defaults, SERVICE_HOST names the host.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the wiring layer (cmd/supervisor) needs to
// construct the RRSC components. Unset fields fall back to the defaults
// assigned by the loader below (for example a 20-slot breaker window,
// 5 minimum requests and 5 restarts), which are not the values used in
// spec.md §8's worked scenarios.
type Config struct {
	ServiceName string
	Host        string
	Port        string

	// Circuit breaker defaults (spec §4.2).
	WindowSize               int
	ErrorThreshold           float64
	MinimumRequests          int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
	HalfOpenMaxCalls         int
	UseErrorPercentage       bool
	MaxBackoff               time.Duration

	// Discovery (spec §4.3).
	DiscoveryURL            string
	DiscoveryInterval        time.Duration
	ChannelRefreshInterval   time.Duration
	DeregisterGrace          time.Duration

	// mTLS (spec §4.4).
	MTLSEnabled    bool
	ChannelTimeout time.Duration

	// Health aggregator (spec §4.7).
	CheckInterval   time.Duration
	CheckTimeout    time.Duration
	FailureThreshold int
	StartupGrace     time.Duration
	AutoDegrade      bool

	// Supervisor (spec §4.9).
	MaxRestarts      int
	RestartPeriod    time.Duration
	RestartDelay     time.Duration
	MaxRestartDelay  time.Duration
	RestartJitter    bool

	// Shutdown (spec §4.10).
	ShutdownTimeout time.Duration

	// Bulkhead (spec §4.8).
	MaxConcurrency int

	StatusFilePath string
}

// Load reads environment variables into a Config seeded with defaults,
// the same two-step "defaults then override" shape as the teacher's
// loadConfig.
func Load(serviceName string) *Config {
	cfg := &Config{
		ServiceName: serviceName,
		Host:        getEnv("SERVICE_HOST", "0.0.0.0"),
		Port:        getEnv(envPortKey(serviceName), "8080"),

		WindowSize:               getInt("BREAKER_WINDOW_SIZE", 20),
		ErrorThreshold:           getFloat("BREAKER_ERROR_THRESHOLD", 0.5),
		MinimumRequests:          getInt("BREAKER_MINIMUM_REQUESTS", 5),
		ResetTimeout:             getDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		HalfOpenSuccessThreshold: getInt("BREAKER_HALF_OPEN_SUCCESS_THRESHOLD", 2),
		HalfOpenMaxCalls:         getInt("BREAKER_HALF_OPEN_MAX_CALLS", 3),
		UseErrorPercentage:       getBool("BREAKER_USE_ERROR_PERCENTAGE", true),
		MaxBackoff:               getDuration("BREAKER_MAX_BACKOFF", 5*time.Minute),

		DiscoveryURL:           getEnv("DISCOVERY_URL", ""),
		DiscoveryInterval:      getDuration("DISCOVERY_INTERVAL", 15*time.Second),
		ChannelRefreshInterval: getDuration("CHANNEL_REFRESH_INTERVAL", 5*time.Minute),
		DeregisterGrace:        getDuration("DISCOVERY_DEREGISTER_GRACE", 0),

		MTLSEnabled:    getBool("MTLS_ENABLED", false),
		ChannelTimeout: getDuration("CHANNEL_TIMEOUT", 5*time.Second),

		CheckInterval:    getDuration("HEALTH_CHECK_INTERVAL", 10*time.Second),
		CheckTimeout:     getDuration("HEALTH_CHECK_TIMEOUT", 2*time.Second),
		FailureThreshold: getInt("HEALTH_FAILURE_THRESHOLD", 3),
		StartupGrace:     getDuration("HEALTH_STARTUP_GRACE", 30*time.Second),
		AutoDegrade:      getBool("HEALTH_AUTO_DEGRADE", true),

		MaxRestarts:     getInt("SUPERVISOR_MAX_RESTARTS", 5),
		RestartPeriod:   getDuration("SUPERVISOR_RESTART_PERIOD", 10*time.Second),
		RestartDelay:    getDuration("SUPERVISOR_RESTART_DELAY", 100*time.Millisecond),
		MaxRestartDelay: getDuration("SUPERVISOR_MAX_RESTART_DELAY", time.Second),
		RestartJitter:   getBool("SUPERVISOR_RESTART_JITTER", false),

		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		MaxConcurrency: getInt("BULKHEAD_MAX_CONCURRENCY", 50),

		StatusFilePath: getEnv("STATUS_FILE_PATH", ""),
	}
	return cfg
}

func envPortKey(serviceName string) string {
	return strings.ToUpper(serviceName) + "_SERVICE_PORT"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
