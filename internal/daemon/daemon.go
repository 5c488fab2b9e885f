package daemon

import (
	"context"
)

// Daemon is a long-running background unit owned by exactly one service
// record. Start runs until the context is cancelled or the daemon decides to
// exit; Stop requests graceful termination and returns once internal cleanup
// completes or ctx expires. Implementations must tolerate Stop being called
// while Start is still running and must not be restarted concurrently.
type Daemon interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Set is the closed collection of daemons the supervisor manages. Adding a
// service is a compile-time change: a new field here and a new ServiceName in
// the supervisor package.
type Set struct {
	Ticker  Daemon
	Ohlcv   Daemon
	Account Daemon
}

// Heartbeater is the subset of the process registry daemons publish into.
type Heartbeater interface {
	UpdateHeartbeat(ctx context.Context, component, status string) error
}
