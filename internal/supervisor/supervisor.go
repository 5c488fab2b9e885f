// Package supervisor owns the lifecycle of the managed background services.
// Each service is driven by a daemon implementation and tracked through a
// small state machine; control operations on the same service are serialized
// while status reads never block behind them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/supervisr/internal/daemon"
	"github.com/loykin/supervisr/internal/history"
	"github.com/loykin/supervisr/internal/metrics"
)

const (
	defaultStartGrace   = 250 * time.Millisecond
	defaultStopGrace    = 5 * time.Second
	defaultRestartPause = time.Second
)

// Config tunes lifecycle timing. Zero values pick reasonable defaults.
type Config struct {
	// StartGrace is how long Start waits for the daemon to report an
	// immediate failure before declaring the service running.
	StartGrace time.Duration
	// StopGrace bounds how long a stop waits for the daemon to wind down
	// before the task context is cancelled forcibly.
	StopGrace time.Duration
	// RestartPause is the delay between the stop and start halves of a
	// restart.
	RestartPause time.Duration

	Logger  *slog.Logger
	History history.Sink
}

func (c *Config) normalize() {
	if c.StartGrace <= 0 {
		c.StartGrace = defaultStartGrace
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.RestartPause <= 0 {
		c.RestartPause = defaultRestartPause
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// task is one live run of a daemon. done is closed exactly once, after err
// is set, when the daemon's Start call returns.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type record struct {
	name ServiceName
	dmn  daemon.Daemon

	// opMu serializes control operations (start/stop/restart) on this
	// service. It is never held while reading status.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     State
	restarts  int
	task      *task
	lastErr   string
	lastHC    *HealthCheck
	changedAt time.Time
}

// Supervisor manages the fixed set of background services.
type Supervisor struct {
	cfg  Config
	log  *slog.Logger
	recs map[ServiceName]*record
}

// New builds a supervisor over the given daemon set. All services begin in
// the stopped state; nothing starts until Start is called.
func New(set daemon.Set, cfg Config) *Supervisor {
	cfg.normalize()
	now := time.Now()
	recs := map[ServiceName]*record{
		ServiceTicker:  {name: ServiceTicker, dmn: set.Ticker, changedAt: now},
		ServiceOhlcv:   {name: ServiceOhlcv, dmn: set.Ohlcv, changedAt: now},
		ServiceAccount: {name: ServiceAccount, dmn: set.Account, changedAt: now},
	}
	for n := range recs {
		metrics.SetCurrentState(string(n), StateStopped.String())
	}
	return &Supervisor{cfg: cfg, log: cfg.Logger, recs: recs}
}

func (s *Supervisor) record(name ServiceName) (*record, error) {
	rec, ok := s.recs[name]
	if !ok || rec.dmn == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return rec, nil
}

// setState must be called with rec.mu held.
func (s *Supervisor) setState(rec *record, to State) {
	from := rec.state
	if from == to {
		return
	}
	rec.state = to
	rec.changedAt = time.Now()
	metrics.RecordStateTransition(string(rec.name), from.String(), to.String())
	metrics.SetCurrentState(string(rec.name), to.String())
	s.log.Debug("service state changed", "service", rec.name, "from", from.String(), "to", to.String())
}

func (s *Supervisor) emit(typ history.EventType, rec *record, detail string) {
	if s.cfg.History == nil {
		return
	}
	rec.mu.RLock()
	ev := history.Event{
		Type:       typ,
		OccurredAt: time.Now(),
		Service:    string(rec.name),
		State:      rec.state.String(),
		Restarts:   rec.restarts,
		Detail:     detail,
	}
	rec.mu.RUnlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cfg.History.Send(ctx, ev); err != nil {
		s.log.Warn("history record failed", "service", rec.name, "type", string(typ), "err", err)
	}
}

// Start launches the named service. It returns ErrAlreadyRunning when the
// service is running or mid-start, and ErrDaemonStart when the daemon fails
// within the start grace window.
func (s *Supervisor) Start(ctx context.Context, name ServiceName) error {
	rec, err := s.record(name)
	if err != nil {
		return err
	}
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	if err := s.startLocked(ctx, rec); err != nil {
		return err
	}
	metrics.IncStart(string(name))
	s.emit(history.EventStart, rec, "")
	return nil
}

// startLocked requires rec.opMu to be held.
func (s *Supervisor) startLocked(_ context.Context, rec *record) error {
	rec.mu.Lock()
	switch rec.state {
	case StateStarting, StateRunning:
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, rec.name)
	}
	s.setState(rec, StateStarting)
	rec.lastErr = ""
	rec.mu.Unlock()

	// The task outlives the request that started it. Its lifetime is bound
	// only to a stop or shutdown cancelling this context.
	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	go func() {
		t.err = rec.dmn.Start(taskCtx)
		close(t.done)
	}()

	timer := time.NewTimer(s.cfg.StartGrace)
	defer timer.Stop()
	select {
	case <-t.done:
		cancel()
		rec.mu.Lock()
		s.setState(rec, StateFailed)
		if t.err != nil {
			rec.lastErr = t.err.Error()
		} else {
			rec.lastErr = "daemon exited during start"
		}
		rec.mu.Unlock()
		metrics.IncStartFailure(string(rec.name))
		if t.err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDaemonStart, rec.name, t.err)
		}
		return fmt.Errorf("%w: %s: exited during start", ErrDaemonStart, rec.name)
	case <-timer.C:
	}

	rec.mu.Lock()
	s.setState(rec, StateRunning)
	rec.task = t
	rec.mu.Unlock()
	go s.watch(rec, t)
	s.log.Info("service started", "service", rec.name)
	return nil
}

// watch flips a service to failed when its task exits outside of a stop.
func (s *Supervisor) watch(rec *record, t *task) {
	<-t.done
	rec.mu.Lock()
	if rec.task != t || rec.state != StateRunning {
		rec.mu.Unlock()
		return
	}
	s.setState(rec, StateFailed)
	rec.task = nil
	if t.err != nil {
		rec.lastErr = t.err.Error()
	} else {
		rec.lastErr = "daemon exited unexpectedly"
	}
	detail := rec.lastErr
	rec.mu.Unlock()
	t.cancel()
	s.log.Warn("service exited unexpectedly", "service", rec.name, "err", detail)
	s.emit(history.EventFailed, rec, detail)
}

// Stop winds down the named service. A stop that is already in flight on
// another goroutine is waited for rather than rejected; a stop of a service
// that is simply not running returns ErrNotRunning.
func (s *Supervisor) Stop(ctx context.Context, name ServiceName) error {
	rec, err := s.record(name)
	if err != nil {
		return err
	}
	rec.mu.RLock()
	wasStopping := rec.state == StateStopping
	rec.mu.RUnlock()

	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	rec.mu.RLock()
	st := rec.state
	rec.mu.RUnlock()
	if st != StateRunning {
		if wasStopping {
			// The in-flight stop we observed finished while we waited for
			// the lock; nothing left to do.
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	if err := s.stopLocked(ctx, rec); err != nil {
		return err
	}
	metrics.IncStop(string(name))
	s.emit(history.EventStop, rec, "")
	return nil
}

// stopLocked requires rec.opMu to be held and the service to be running.
func (s *Supervisor) stopLocked(ctx context.Context, rec *record) error {
	rec.mu.Lock()
	s.setState(rec, StateStopping)
	t := rec.task
	rec.mu.Unlock()

	timedOut := false
	if t != nil {
		// The daemon's Stop may itself hang, so it runs off to the side
		// and shares the grace budget with the task's own wind-down.
		stopCtx, cancel := context.WithTimeout(ctx, s.cfg.StopGrace)
		stopped := make(chan error, 1)
		go func() { stopped <- rec.dmn.Stop(stopCtx) }()

		grace := time.NewTimer(s.cfg.StopGrace)
		select {
		case err := <-stopped:
			if err != nil {
				s.log.Warn("daemon stop returned error", "service", rec.name, "err", err)
			}
		case <-grace.C:
			timedOut = true
		}
		grace.Stop()
		cancel()

		t.cancel()
		force := time.NewTimer(s.cfg.StopGrace)
		select {
		case <-t.done:
		case <-force.C:
			timedOut = true
		}
		force.Stop()
	}

	rec.mu.Lock()
	s.setState(rec, StateStopped)
	rec.task = nil
	rec.mu.Unlock()
	if timedOut {
		s.log.Warn("service stop exceeded grace period, task cancelled", "service", rec.name, "err", ErrGracefulStopTimeout)
	}
	s.log.Info("service stopped", "service", rec.name)
	return nil
}

// Restart stops the service if it is running, pauses briefly, then starts it
// again. A successful restart resets the restart counter; restarts performed
// here count as operator intervention, not failures.
func (s *Supervisor) Restart(ctx context.Context, name ServiceName) error {
	rec, err := s.record(name)
	if err != nil {
		return err
	}
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	rec.mu.RLock()
	running := rec.state == StateRunning
	rec.mu.RUnlock()
	if running {
		if err := s.stopLocked(ctx, rec); err != nil {
			return err
		}
		time.Sleep(s.cfg.RestartPause)
	}
	if err := s.startLocked(ctx, rec); err != nil {
		return err
	}
	rec.mu.Lock()
	rec.restarts = 0
	rec.mu.Unlock()
	s.emit(history.EventRestart, rec, "")
	return nil
}

// AutoRestart restarts a failed service on behalf of the health monitor. It
// reports false without error when the service is no longer in the failed
// state, which means someone else intervened and the monitor should leave it
// alone.
func (s *Supervisor) AutoRestart(ctx context.Context, name ServiceName) (bool, error) {
	rec, err := s.record(name)
	if err != nil {
		return false, err
	}
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	rec.mu.RLock()
	failed := rec.state == StateFailed
	rec.mu.RUnlock()
	if !failed {
		return false, nil
	}
	if err := s.startLocked(ctx, rec); err != nil {
		return false, err
	}
	rec.mu.Lock()
	rec.restarts++
	rec.mu.Unlock()
	metrics.IncAutoRestart(string(name))
	s.emit(history.EventAutoRestart, rec, "")
	s.log.Info("service auto-restarted", "service", name)
	return true, nil
}

// RecordHealth attaches the latest probe outcome to the service's status.
func (s *Supervisor) RecordHealth(name ServiceName, hc HealthCheck) error {
	rec, err := s.record(name)
	if err != nil {
		return err
	}
	if hc.CheckedAt.IsZero() {
		hc.CheckedAt = time.Now()
	}
	rec.mu.Lock()
	rec.lastHC = &hc
	rec.mu.Unlock()
	metrics.IncHealthCheck(string(name), string(hc.Result))
	return nil
}

func (s *Supervisor) snapshot(rec *record) StatusView {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	var hc *HealthCheck
	if rec.lastHC != nil {
		cp := *rec.lastHC
		hc = &cp
	}
	alive := false
	if rec.task != nil {
		select {
		case <-rec.task.done:
		default:
			alive = true
		}
	}
	return StatusView{
		Service:          rec.name,
		State:            rec.state,
		StateName:        rec.state.String(),
		IsRunning:        rec.state == StateRunning,
		Restarts:         rec.restarts,
		TaskAlive:        alive,
		DaemonRunning:    rec.dmn.IsRunning(),
		LastTransitionAt: rec.changedAt,
		LastHealthCheck:  hc,
		LastError:        rec.lastErr,
	}
}

// Status returns a snapshot of one service. It never blocks behind control
// operations in flight on that service.
func (s *Supervisor) Status(name ServiceName) (StatusView, error) {
	rec, err := s.record(name)
	if err != nil {
		return StatusView{}, err
	}
	return s.snapshot(rec), nil
}

// StatusAll snapshots every managed service in a stable order.
func (s *Supervisor) StatusAll() []StatusView {
	out := make([]StatusView, 0, len(s.recs))
	for _, name := range ManagedServices() {
		if rec, ok := s.recs[name]; ok && rec.dmn != nil {
			out = append(out, s.snapshot(rec))
		}
	}
	return out
}

// Shutdown stops every running service concurrently and waits for all stops
// to finish or the context to expire, whichever comes first.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, name := range ManagedServices() {
		rec, ok := s.recs[name]
		if !ok || rec.dmn == nil {
			continue
		}
		wg.Add(1)
		go func(n ServiceName) {
			defer wg.Done()
			if err := s.Stop(ctx, n); err != nil && !errors.Is(err, ErrNotRunning) {
				s.log.Warn("shutdown stop failed", "service", n, "err", err)
			}
		}(name)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("supervisor shutdown complete")
		return nil
	case <-ctx.Done():
		s.log.Warn("supervisor shutdown deadline exceeded")
		return ctx.Err()
	}
}
