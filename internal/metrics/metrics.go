package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops (graceful or forced).",
		}, []string{"service"},
	)
	serviceAutoRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "service",
			Name:      "auto_restarts_total",
			Help:      "Number of auto-restarts performed by the health monitor.",
		}, []string{"service"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of daemon start failures.",
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervisr",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current lifecycle state per service (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "monitor",
			Name:      "health_checks_total",
			Help:      "Number of per-service health check results.",
		}, []string{"service", "result"},
	)
	budgetExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervisr",
			Subsystem: "monitor",
			Name:      "restart_budget_exhausted_total",
			Help:      "Number of ticks where a failed service was left alone because its restart budget was spent.",
		}, []string{"service"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStops, serviceAutoRestarts, serviceStartFailures,
		stateTransitions, currentStates, healthChecks, budgetExhausted,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers all metrics with the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncAutoRestart(service string) {
	if regOK.Load() {
		serviceAutoRestarts.WithLabelValues(service).Inc()
	}
}

func IncStartFailure(service string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(service).Inc()
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

// SetCurrentState flips the one-hot state gauge for a service.
func SetCurrentState(service, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range []string{"stopped", "starting", "running", "stopping", "failed"} {
		var value float64
		if s == state {
			value = 1
		}
		currentStates.WithLabelValues(service, s).Set(value)
	}
}

func IncHealthCheck(service, result string) {
	if regOK.Load() {
		healthChecks.WithLabelValues(service, result).Inc()
	}
}

func IncBudgetExhausted(service string) {
	if regOK.Load() {
		budgetExhausted.WithLabelValues(service).Inc()
	}
}
