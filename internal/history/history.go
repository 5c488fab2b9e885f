package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart           EventType = "start"
	EventStop            EventType = "stop"
	EventRestart         EventType = "restart"
	EventAutoRestart     EventType = "auto_restart"
	EventFailed          EventType = "failed"
	EventBudgetExhausted EventType = "budget_exhausted"
)

// Event represents a service lifecycle event to be exported to external
// systems. It is an audit record, not supervisor state: replaying events does
// not reconstruct a supervisor.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	State      string    `json:"state"`
	Restarts   int       `json:"restarts"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/audit systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
