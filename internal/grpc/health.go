// Package grpc exposes the gRPC health service whose status follows the
// reachability of the message store and presence backend.
package grpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"messaging-service/internal/observability"
)

// ServiceName is the health service entry reported alongside the overall status.
const ServiceName = "messaging.Messaging"

const (
	defaultInterval    = 15 * time.Second
	defaultPingTimeout = 2 * time.Second
)

// Pinger is any dependency whose reachability gates serving.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthMonitor pings dependencies on an interval and flips the health status.
type HealthMonitor struct {
	server   *health.Server
	deps     map[string]Pinger
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithInterval sets the time between checks.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithPingTimeout bounds a single dependency ping.
func WithPingTimeout(d time.Duration) MonitorOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewHealthMonitor builds a monitor over the named dependencies.
func NewHealthMonitor(deps map[string]Pinger, log *slog.Logger, opts ...MonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		server:   health.NewServer(),
		deps:     deps,
		interval: defaultInterval,
		timeout:  defaultPingTimeout,
		log:      log,
		status:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check pings every dependency once and publishes the result.
func (m *HealthMonitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, dep := range m.deps {
		pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			m.log.Warn("health dependency unreachable", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	m.mu.Lock()
	changed := status != m.status
	m.status = status
	m.mu.Unlock()
	if changed {
		m.log.Info("health status changed", "status", status.String())
	}

	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
	return status
}

// Status returns the last published status.
func (m *HealthMonitor) Status() healthpb.HealthCheckResponse_ServingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run checks immediately and then on every tick until ctx ends.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to all watchers.
func (m *HealthMonitor) Shutdown() {
	m.server.Shutdown()
}

// NewServer builds the gRPC server with tracing, metrics and the health service registered.
func NewServer(monitor *HealthMonitor) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(srv, monitor.server)
	return srv
}
