// Package monitor watches the supervised services and restarts failed ones
// within a bounded budget. It is deliberately conservative: services that are
// mid-transition or freshly changed are left alone, and once a service burns
// through its restart budget the monitor backs off until an operator steps in.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/supervisr/internal/history"
	"github.com/loykin/supervisr/internal/metrics"
	"github.com/loykin/supervisr/internal/registry"
	"github.com/loykin/supervisr/internal/supervisor"
)

const (
	defaultInterval  = 30 * time.Second
	defaultSettle    = 10 * time.Second
	defaultMaxResets = 3
	defaultWindow    = 10 * time.Minute
	defaultCooldown  = 60 * time.Second
	defaultStale     = time.Minute
	defaultBeatEvery = 30 * time.Second
	actionRingSize   = 100
)

// Pinger is the slice of a database pool the monitor needs. Both pgxpool.Pool
// and database/sql satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProcessLister is the slice of the registry the monitor reads heartbeats
// from and writes its own liveness into.
type ProcessLister interface {
	ActiveProcesses(ctx context.Context) ([]registry.ProcessInfo, error)
	UpdateHeartbeat(ctx context.Context, component, status string) error
}

// AutoRestartConfig bounds how aggressively failed services are revived.
type AutoRestartConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxRestarts is the budget per service within Window.
	MaxRestarts int           `mapstructure:"max_restarts"`
	Window      time.Duration `mapstructure:"window"`
	// Cooldown is the minimum gap between two restarts of the same service.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// Config tunes the monitoring loop. Zero values pick defaults.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// Settle is how long a service is left alone after a state transition.
	Settle      time.Duration     `mapstructure:"settle"`
	AutoRestart AutoRestartConfig `mapstructure:"auto_restart"`
	// StaleAfter flags a registry heartbeat as stale when older than this.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// HeartbeatEvery rate-limits the monitor's own registry writes.
	HeartbeatEvery time.Duration `mapstructure:"heartbeat_every"`
	CheckDatabase  bool          `mapstructure:"check_database"`
	CheckRegistry  bool          `mapstructure:"check_registry"`
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Settle <= 0 {
		c.Settle = defaultSettle
	}
	if c.AutoRestart.MaxRestarts <= 0 {
		c.AutoRestart.MaxRestarts = defaultMaxResets
	}
	if c.AutoRestart.Window <= 0 {
		c.AutoRestart.Window = defaultWindow
	}
	if c.AutoRestart.Cooldown <= 0 {
		c.AutoRestart.Cooldown = defaultCooldown
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStale
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultBeatEvery
	}
}

// Action is one entry in the monitor's recent-action ring.
type Action struct {
	At      time.Time `json:"at"`
	Service string    `json:"service"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
}

// ServiceCheck is the outcome of one pass over one service.
type ServiceCheck struct {
	Service   supervisor.ServiceName  `json:"service"`
	State     string                  `json:"state"`
	Result    supervisor.HealthResult `json:"result"`
	Detail    string                  `json:"detail,omitempty"`
	Restarted bool                    `json:"restarted"`
}

// Result summarizes one monitoring pass.
type Result struct {
	RanAt    time.Time      `json:"ran_at"`
	Checks   []ServiceCheck `json:"checks"`
	Database string         `json:"database,omitempty"`
	Registry string         `json:"registry,omitempty"`
}

// Status is the monitor's own view, served on the health surface.
type Status struct {
	Running     bool      `json:"running"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	LastResult  *Result   `json:"last_result,omitempty"`
	Exhausted   []string  `json:"budget_exhausted,omitempty"`
	Actions     []Action  `json:"recent_actions"`
	AutoRestart bool      `json:"auto_restart_enabled"`
}

type budget struct {
	restarts  []time.Time // within the sliding window
	lastTry   time.Time
	exhausted bool
}

// Monitor runs periodic health passes against the supervisor.
type Monitor struct {
	cfg  Config
	sup  *supervisor.Supervisor
	reg  ProcessLister
	db   Pinger
	log  *slog.Logger
	hist history.Sink

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastRun  time.Time
	lastRes  *Result
	budgets  map[supervisor.ServiceName]*budget
	actions  []Action
	lastBeat time.Time
}

// New builds a monitor. reg, db and hist may be nil; the corresponding
// checks and records are skipped.
func New(sup *supervisor.Supervisor, cfg Config, opts ...Option) *Monitor {
	cfg.normalize()
	m := &Monitor{
		cfg:     cfg,
		sup:     sup,
		log:     slog.Default(),
		budgets: map[supervisor.ServiceName]*budget{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Option configures optional monitor dependencies.
type Option func(*Monitor)

func WithLogger(l *slog.Logger) Option    { return func(m *Monitor) { m.log = l } }
func WithRegistry(r ProcessLister) Option { return func(m *Monitor) { m.reg = r } }
func WithDatabase(p Pinger) Option        { return func(m *Monitor) { m.db = p } }
func WithHistory(s history.Sink) Option   { return func(m *Monitor) { m.hist = s } }

// Start launches the periodic loop. It is a no-op if already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stop, done := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.loop(ctx, stop, done)
	m.log.Info("health monitor started", "interval", m.cfg.Interval, "auto_restart", m.cfg.AutoRestart.Enabled)
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	close(stop)
	<-done
	m.log.Info("health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.safeRun(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.safeRun(ctx)
		}
	}
}

// safeRun keeps a panic in one pass from killing the loop.
func (m *Monitor) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health pass panicked", "panic", fmt.Sprint(r))
		}
	}()
	m.RunOnce(ctx)
}

// RunOnce performs a single monitoring pass and returns its result. It is
// also wired to the on-demand check endpoint.
func (m *Monitor) RunOnce(ctx context.Context) Result {
	res := Result{RanAt: time.Now()}

	dbDetail := m.checkDatabase(ctx)
	res.Database = dbDetail
	regDetail, beats := m.checkRegistry(ctx)
	res.Registry = regDetail

	for _, view := range m.sup.StatusAll() {
		check := m.checkService(ctx, view, beats, dbDetail)
		res.Checks = append(res.Checks, check)
	}

	m.beat(ctx)

	m.mu.Lock()
	m.lastRun = res.RanAt
	m.lastRes = &res
	m.mu.Unlock()
	return res
}

func (m *Monitor) checkDatabase(ctx context.Context) string {
	if !m.cfg.CheckDatabase || m.db == nil {
		return ""
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.db.Ping(pctx); err != nil {
		m.log.Warn("database health check failed", "err", err)
		return "unreachable: " + err.Error()
	}
	return "ok"
}

func (m *Monitor) checkRegistry(ctx context.Context) (string, map[string]registry.ProcessInfo) {
	if !m.cfg.CheckRegistry || m.reg == nil {
		return "", nil
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	procs, err := m.reg.ActiveProcesses(rctx)
	if err != nil {
		m.log.Warn("registry health check failed", "err", err)
		return "unreachable: " + err.Error(), nil
	}
	beats := make(map[string]registry.ProcessInfo, len(procs))
	for _, p := range procs {
		beats[p.Component] = p
	}
	return "ok", beats
}

func (m *Monitor) checkService(ctx context.Context, view supervisor.StatusView, beats map[string]registry.ProcessInfo, dbDetail string) ServiceCheck {
	check := ServiceCheck{Service: view.Service, State: view.StateName}

	// Leave mid-transition and freshly changed services alone.
	if view.State == supervisor.StateStarting || view.State == supervisor.StateStopping ||
		time.Since(view.LastTransitionAt) < m.cfg.Settle {
		check.Result = supervisor.HealthDegraded
		check.Detail = "settling"
		return check
	}

	switch view.State {
	case supervisor.StateFailed:
		check.Result = supervisor.HealthUnhealthy
		check.Detail = view.LastError
		check.Restarted = m.maybeRestart(ctx, view)
	case supervisor.StateRunning:
		check.Result, check.Detail = m.probeRunning(view, beats, dbDetail)
		m.clearBudgetIfReset(view)
	default: // stopped on purpose
		check.Result = supervisor.HealthHealthy
		check.Detail = "stopped by operator"
	}

	hc := supervisor.HealthCheck{Result: check.Result, Detail: check.Detail, CheckedAt: time.Now()}
	if err := m.sup.RecordHealth(view.Service, hc); err != nil {
		m.log.Warn("record health failed", "service", view.Service, "err", err)
	}
	return check
}

func (m *Monitor) probeRunning(view supervisor.StatusView, beats map[string]registry.ProcessInfo, dbDetail string) (supervisor.HealthResult, string) {
	if !view.TaskAlive {
		return supervisor.HealthUnhealthy, "task gone"
	}
	if !view.DaemonRunning {
		return supervisor.HealthDegraded, "daemon reports not running"
	}
	if beats != nil {
		beat, ok := beats[string(view.Service)]
		if !ok {
			return supervisor.HealthDegraded, "no heartbeat in registry"
		}
		if age := time.Since(beat.LastSeen); age > m.cfg.StaleAfter {
			return supervisor.HealthDegraded, fmt.Sprintf("heartbeat stale for %s", age.Truncate(time.Second))
		}
	}
	if dbDetail != "" && dbDetail != "ok" {
		return supervisor.HealthDegraded, "database " + dbDetail
	}
	return supervisor.HealthHealthy, ""
}

// clearBudgetIfReset forgets a service's restart history once an operator
// restart has zeroed its counter and it is running again.
func (m *Monitor) clearBudgetIfReset(view supervisor.StatusView) {
	if view.Restarts != 0 {
		return
	}
	m.mu.Lock()
	if b, ok := m.budgets[view.Service]; ok && (len(b.restarts) > 0 || b.exhausted) {
		delete(m.budgets, view.Service)
		m.log.Info("restart budget reset", "service", view.Service)
	}
	m.mu.Unlock()
}

func (m *Monitor) maybeRestart(ctx context.Context, view supervisor.StatusView) bool {
	if !m.cfg.AutoRestart.Enabled {
		return false
	}
	name := view.Service
	now := time.Now()

	m.mu.Lock()
	b, ok := m.budgets[name]
	if !ok {
		b = &budget{}
		m.budgets[name] = b
	}
	if b.exhausted {
		// Latched until an operator restart clears it.
		m.mu.Unlock()
		return false
	}
	// Slide the window.
	kept := b.restarts[:0]
	for _, t := range b.restarts {
		if now.Sub(t) < m.cfg.AutoRestart.Window {
			kept = append(kept, t)
		}
	}
	b.restarts = kept

	if !b.lastTry.IsZero() && now.Sub(b.lastTry) < m.cfg.AutoRestart.Cooldown {
		m.mu.Unlock()
		return false
	}
	if len(b.restarts) >= m.cfg.AutoRestart.MaxRestarts {
		first := !b.exhausted
		b.exhausted = true
		m.mu.Unlock()
		if first {
			metrics.IncBudgetExhausted(string(name))
			m.record(Action{At: now, Service: string(name), Kind: "budget_exhausted",
				Detail: fmt.Sprintf("%d restarts in %s", m.cfg.AutoRestart.MaxRestarts, m.cfg.AutoRestart.Window)})
			m.emit(history.EventBudgetExhausted, name, view.Restarts, "operator intervention required")
			m.log.Error("restart budget exhausted, leaving service failed", "service", name)
		}
		return false
	}
	b.lastTry = now
	m.mu.Unlock()

	restarted, err := m.sup.AutoRestart(ctx, name)
	if err != nil {
		m.record(Action{At: now, Service: string(name), Kind: "restart_failed", Detail: err.Error()})
		m.log.Warn("auto restart failed", "service", name, "err", err)
		return false
	}
	if !restarted {
		// Someone intervened between the snapshot and now.
		return false
	}
	m.mu.Lock()
	b.restarts = append(b.restarts, now)
	m.mu.Unlock()
	m.record(Action{At: now, Service: string(name), Kind: "auto_restart", Detail: view.LastError})
	return true
}

// beat writes the monitor's own liveness into the registry, rate limited so
// a fast check interval does not hammer redis.
func (m *Monitor) beat(ctx context.Context) {
	if m.reg == nil {
		return
	}
	m.mu.Lock()
	due := time.Since(m.lastBeat) >= m.cfg.HeartbeatEvery
	if due {
		m.lastBeat = time.Now()
	}
	m.mu.Unlock()
	if !due {
		return
	}
	bctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := m.reg.UpdateHeartbeat(bctx, "health_monitor", "running"); err != nil {
		m.log.Warn("monitor heartbeat failed", "err", err)
	}
}

func (m *Monitor) record(a Action) {
	m.mu.Lock()
	m.actions = append(m.actions, a)
	if len(m.actions) > actionRingSize {
		m.actions = m.actions[len(m.actions)-actionRingSize:]
	}
	m.mu.Unlock()
}

func (m *Monitor) emit(typ history.EventType, name supervisor.ServiceName, restarts int, detail string) {
	if m.hist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := history.Event{Type: typ, OccurredAt: time.Now(), Service: string(name), Restarts: restarts, Detail: detail}
	if err := m.hist.Send(ctx, ev); err != nil {
		m.log.Warn("history record failed", "service", name, "err", err)
	}
}

// Status reports the monitor's own state for the health surface.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:     m.running,
		LastRunAt:   m.lastRun,
		LastResult:  m.lastRes,
		AutoRestart: m.cfg.AutoRestart.Enabled,
		Actions:     append([]Action(nil), m.actions...),
	}
	for name, b := range m.budgets {
		if b.exhausted {
			st.Exhausted = append(st.Exhausted, string(name))
		}
	}
	return st
}
