package supervisor

import "errors"

var (
	// ErrUnknownService is returned when a name is not in the managed set.
	ErrUnknownService = errors.New("unknown service")
	// ErrAlreadyRunning is returned by Start when the service is already
	// running or mid-start.
	ErrAlreadyRunning = errors.New("service already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("service not running")
	// ErrDaemonStart wraps a failure reported by the daemon during startup.
	ErrDaemonStart = errors.New("daemon start failed")
	// ErrGracefulStopTimeout signals that a stop exceeded the grace period
	// and the task was cancelled forcibly. The stop itself still succeeds.
	ErrGracefulStopTimeout = errors.New("graceful stop timed out")
)
