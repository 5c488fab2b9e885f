// Package supervisr supervises the fullon background services (ticker,
// ohlcv, account) and exposes their lifecycle over an HTTP control surface.
// This file is the public facade for embedding; the daemon binary lives in
// cmd/supervisr.
package supervisr

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/supervisr/internal/auth"
	cfg "github.com/loykin/supervisr/internal/config"
	"github.com/loykin/supervisr/internal/daemon"
	"github.com/loykin/supervisr/internal/history"
	historyfactory "github.com/loykin/supervisr/internal/history/factory"
	"github.com/loykin/supervisr/internal/metrics"
	"github.com/loykin/supervisr/internal/monitor"
	"github.com/loykin/supervisr/internal/registry"
	iapi "github.com/loykin/supervisr/internal/server"
	"github.com/loykin/supervisr/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type (
	Daemon      = daemon.Daemon
	DaemonSet   = daemon.Set
	ServiceName = supervisor.ServiceName
	State       = supervisor.State
	StatusView  = supervisor.StatusView
	HealthCheck = supervisor.HealthCheck

	SupervisorConfig = supervisor.Config
	MonitorConfig    = monitor.Config
	RegistryConfig   = registry.Config
	AuthConfig       = auth.Config
	HistorySink      = history.Sink
)

const (
	ServiceTicker  = supervisor.ServiceTicker
	ServiceOhlcv   = supervisor.ServiceOhlcv
	ServiceAccount = supervisor.ServiceAccount
)

var (
	ErrUnknownService      = supervisor.ErrUnknownService
	ErrAlreadyRunning      = supervisor.ErrAlreadyRunning
	ErrNotRunning          = supervisor.ErrNotRunning
	ErrDaemonStart         = supervisor.ErrDaemonStart
	ErrGracefulStopTimeout = supervisor.ErrGracefulStopTimeout
)

// ManagedServices lists every service name the supervisor knows about.
func ManagedServices() []ServiceName { return supervisor.ManagedServices() }

// Supervisor is a thin facade over the internal supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a supervisor over the given daemon set.
func New(set DaemonSet, config SupervisorConfig) *Supervisor {
	return &Supervisor{inner: supervisor.New(set, config)}
}

func (s *Supervisor) Start(ctx context.Context, name ServiceName) error {
	return s.inner.Start(ctx, name)
}
func (s *Supervisor) Stop(ctx context.Context, name ServiceName) error {
	return s.inner.Stop(ctx, name)
}
func (s *Supervisor) Restart(ctx context.Context, name ServiceName) error {
	return s.inner.Restart(ctx, name)
}
func (s *Supervisor) Status(name ServiceName) (StatusView, error) { return s.inner.Status(name) }
func (s *Supervisor) StatusAll() []StatusView                     { return s.inner.StatusAll() }
func (s *Supervisor) Shutdown(ctx context.Context) error          { return s.inner.Shutdown(ctx) }

// NewMonitor builds a health monitor over the supervisor.
func NewMonitor(s *Supervisor, config MonitorConfig, opts ...monitor.Option) *Monitor {
	return &Monitor{inner: monitor.New(s.inner, config, opts...)}
}

// Monitor is a facade over the internal health monitor.
type Monitor struct{ inner *monitor.Monitor }

func (m *Monitor) Start(ctx context.Context) { m.inner.Start(ctx) }
func (m *Monitor) Stop()                     { m.inner.Stop() }
func (m *Monitor) Status() monitor.Status    { return m.inner.Status() }

// NewRegistry opens the redis process registry.
func NewRegistry(config RegistryConfig) (*registry.Registry, error) { return registry.New(config) }

// NewHistorySink builds a lifecycle event sink from a DSN. Supported schemes
// are sqlite://, postgres:// and clickhouse://; a bare path means sqlite.
func NewHistorySink(dsn string) (HistorySink, error) {
	return historyfactory.NewSinkFromDSN(dsn)
}

// ServerOptions configures the embeddable control surface.
type ServerOptions = iapi.Options

// NewHTTPServer starts an HTTP server exposing the control surface.
func NewHTTPServer(addr string, s *Supervisor, opts ServerOptions) *http.Server {
	return iapi.NewServer(addr, s.inner, opts)
}

// NewHandler returns the control surface as an http.Handler for mounting in
// an existing server or mux.
func NewHandler(s *Supervisor, opts ServerOptions) http.Handler {
	return iapi.NewRouter(s.inner, opts).Handler()
}

// LoadConfig reads the daemon's TOML configuration.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
