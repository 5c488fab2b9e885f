package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// collector is the shared loop behind the built-in daemons. Each pass it
// publishes a heartbeat into the process registry and runs the type-specific
// collect hook. The loop exits when the run context is cancelled or Stop is
// called.
type collector struct {
	name     string
	interval time.Duration
	beat     Heartbeater // may be nil
	logger   *slog.Logger
	collect  func(ctx context.Context, now time.Time) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

const defaultInterval = 5 * time.Second

func newCollector(name string, interval time.Duration, beat Heartbeater, logger *slog.Logger) collector {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return collector{
		name:     name,
		interval: interval,
		beat:     beat,
		logger:   logger.With("daemon", name),
	}
}

func (c *collector) Name() string { return c.name }

func (c *collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("daemon %s already running", c.name)
	}
	stop := make(chan struct{})
	c.stopCh = stop
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.stopCh = nil
		c.mu.Unlock()
	}()

	c.logger.Info("daemon started", "interval", c.interval)
	c.tick(ctx, time.Now())

	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("daemon cancelled")
			return nil
		case <-stop:
			c.logger.Info("daemon stopped")
			return nil
		case now := <-t.C:
			c.tick(ctx, now)
		}
	}
}

func (c *collector) Stop(context.Context) error {
	c.mu.Lock()
	stop := c.stopCh
	c.stopCh = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

func (c *collector) tick(ctx context.Context, now time.Time) {
	if c.beat != nil {
		if err := c.beat.UpdateHeartbeat(ctx, c.name, "running"); err != nil {
			c.logger.Debug("heartbeat failed", "error", err)
		}
	}
	if c.collect != nil {
		if err := c.collect(ctx, now); err != nil {
			c.logger.Warn("collect pass failed", "error", err)
		}
	}
}

// Ticker collects real-time tick snapshots from upstream feeds.
type Ticker struct{ collector }

// NewTicker builds the ticker collection daemon.
func NewTicker(beat Heartbeater, logger *slog.Logger, interval time.Duration) *Ticker {
	d := &Ticker{collector: newCollector("ticker", interval, beat, logger)}
	d.collect = d.collectTicks
	return d
}

func (d *Ticker) collectTicks(_ context.Context, now time.Time) error {
	d.logger.Debug("tick snapshot pass", "at", now.UTC())
	return nil
}

// Ohlcv aggregates trade history into OHLCV candles.
type Ohlcv struct{ collector }

// NewOhlcv builds the OHLCV aggregation daemon.
func NewOhlcv(beat Heartbeater, logger *slog.Logger, interval time.Duration) *Ohlcv {
	d := &Ohlcv{collector: newCollector("ohlcv", interval, beat, logger)}
	d.collect = d.aggregate
	return d
}

func (d *Ohlcv) aggregate(_ context.Context, now time.Time) error {
	d.logger.Debug("candle aggregation pass", "at", now.UTC())
	return nil
}

// Account polls account balances and position changes.
type Account struct{ collector }

// NewAccount builds the account monitoring daemon.
func NewAccount(beat Heartbeater, logger *slog.Logger, interval time.Duration) *Account {
	d := &Account{collector: newCollector("account", interval, beat, logger)}
	d.collect = d.poll
	return d
}

func (d *Account) poll(_ context.Context, now time.Time) error {
	d.logger.Debug("account poll pass", "at", now.UTC())
	return nil
}
