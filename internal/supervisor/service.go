package supervisor

import (
	"fmt"
	"time"
)

// ServiceName identifies one of the managed background services. The set is
// fixed at compile time; there is no dynamic registration.
type ServiceName string

const (
	ServiceTicker  ServiceName = "ticker"
	ServiceOhlcv   ServiceName = "ohlcv"
	ServiceAccount ServiceName = "account"
)

// ManagedServices lists every service the supervisor knows about, in the
// order they are started and reported.
func ManagedServices() []ServiceName {
	return []ServiceName{ServiceTicker, ServiceOhlcv, ServiceAccount}
}

// ParseServiceName validates a raw name against the managed set.
func ParseServiceName(raw string) (ServiceName, error) {
	switch ServiceName(raw) {
	case ServiceTicker, ServiceOhlcv, ServiceAccount:
		return ServiceName(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownService, raw)
}

// State is the lifecycle state of a managed service.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HealthResult classifies the outcome of a single health probe.
type HealthResult string

const (
	HealthHealthy   HealthResult = "healthy"
	HealthDegraded  HealthResult = "degraded"
	HealthUnhealthy HealthResult = "unhealthy"
)

// HealthCheck records the most recent probe outcome for a service.
type HealthCheck struct {
	Result    HealthResult `json:"result"`
	Detail    string       `json:"detail,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// StatusView is a point-in-time snapshot of one service. It is safe to
// retain after the call that produced it.
type StatusView struct {
	Service          ServiceName  `json:"service"`
	State            State        `json:"-"`
	StateName        string       `json:"state"`
	IsRunning        bool         `json:"is_running"`
	Restarts         int          `json:"restarts"`
	TaskAlive        bool         `json:"task_alive"`
	DaemonRunning    bool         `json:"daemon_running"`
	LastTransitionAt time.Time    `json:"last_transition_at"`
	LastHealthCheck  *HealthCheck `json:"last_health_check,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
}
