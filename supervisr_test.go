package supervisr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sleepDaemon struct{ name string }

func (d *sleepDaemon) Name() string { return d.name }

func (d *sleepDaemon) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (d *sleepDaemon) Stop(context.Context) error { return nil }
func (d *sleepDaemon) IsRunning() bool            { return false }

func testSet() DaemonSet {
	return DaemonSet{
		Ticker:  &sleepDaemon{name: "ticker"},
		Ohlcv:   &sleepDaemon{name: "ohlcv"},
		Account: &sleepDaemon{name: "account"},
	}
}

func TestSupervisorFacadeLifecycle(t *testing.T) {
	s := New(testSet(), SupervisorConfig{
		StartGrace: 20 * time.Millisecond,
		StopGrace:  100 * time.Millisecond,
	})
	ctx := context.Background()

	if err := s.Start(ctx, ServiceTicker); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := s.Status(ServiceTicker)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.IsRunning {
		t.Fatalf("expected running, got %+v", st)
	}
	if got := len(s.StatusAll()); got != len(ManagedServices()) {
		t.Fatalf("status all: got %d entries", got)
	}
	if err := s.Stop(ctx, ServiceTicker); err != nil {
		t.Fatalf("stop: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHandlerFacade(t *testing.T) {
	s := New(testSet(), SupervisorConfig{
		StartGrace: 20 * time.Millisecond,
		StopGrace:  100 * time.Millisecond,
	})
	h := NewHandler(s, ServerOptions{BasePath: "/api"})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/services")
	if err != nil {
		t.Fatalf("get services: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body struct {
		Services map[string]StatusView `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(body.Services))
	}
	if _, ok := body.Services["ticker"]; !ok {
		t.Fatalf("expected ticker entry, got %v", body.Services)
	}
}

func TestLoadConfigFacade(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisr.toml")
	data := `
[server]
listen = ":9999"

[monitor]
interval = "5s"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9999" {
		t.Fatalf("listen: got %s", cfg.Server.Listen)
	}
}

func TestHistorySinkFacade(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewHistorySink("sqlite://" + filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	closer, ok := sink.(io.Closer)
	if !ok {
		t.Fatalf("sqlite sink should be closable")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRegisterMetricsFacade(t *testing.T) {
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}
