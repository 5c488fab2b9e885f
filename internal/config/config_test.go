package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supervisr.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9000"
base_path = "/control"

[auth]
enabled = true
store_path = "/tmp/users.db"
jwt_secret = "topsecret"
token_ttl = "2h"

[supervisor]
start_grace = "100ms"
stop_grace = "3s"
autostart = ["ticker", "ohlcv"]

[monitor]
interval = "15s"
check_registry = true

[monitor.auto_restart]
enabled = true
max_restarts = 5
window = "1h"
cooldown = "30s"

[registry]
enabled = true
addr = "redis:6379"
key_prefix = "fullon"
ttl = "5m"

[history]
enabled = true
dsn = "sqlite:///tmp/history.db"

[log]
level = "debug"
format = "json"

[daemons.ticker]
interval = "2s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9000" || cfg.Server.BasePath != "/control" {
		t.Fatalf("server section: %+v", cfg.Server)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour || cfg.Auth.JWTSecret != "topsecret" {
		t.Fatalf("auth section: %+v", cfg.Auth)
	}
	if cfg.Supervisor.StartGrace != 100*time.Millisecond || cfg.Supervisor.StopGrace != 3*time.Second {
		t.Fatalf("supervisor section: %+v", cfg.Supervisor)
	}
	if len(cfg.Supervisor.Autostart) != 2 {
		t.Fatalf("autostart: %+v", cfg.Supervisor.Autostart)
	}
	if cfg.Monitor.Interval != 15*time.Second || cfg.Monitor.AutoRestart.MaxRestarts != 5 {
		t.Fatalf("monitor section: %+v", cfg.Monitor)
	}
	if !cfg.Registry.Enabled || cfg.Registry.Addr != "redis:6379" || cfg.Registry.TTL != 5*time.Minute {
		t.Fatalf("registry section: %+v", cfg.Registry)
	}
	if !cfg.History.Enabled || cfg.History.DSN != "sqlite:///tmp/history.db" {
		t.Fatalf("history section: %+v", cfg.History)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log section: %+v", cfg.Log)
	}
	if cfg.Daemons.Ticker.Interval != 2*time.Second {
		t.Fatalf("daemons section: %+v", cfg.Daemons)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":8420" || cfg.Server.BasePath != "/api" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if cfg.Supervisor.StartGrace != 250*time.Millisecond || cfg.Supervisor.StopGrace != 5*time.Second {
		t.Fatalf("supervisor defaults: %+v", cfg.Supervisor)
	}
	if !cfg.Monitor.AutoRestart.Enabled || cfg.Monitor.AutoRestart.MaxRestarts != 3 {
		t.Fatalf("monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.Monitor.AutoRestart.Window != 10*time.Minute {
		t.Fatalf("window default: %v", cfg.Monitor.AutoRestart.Window)
	}
	if !cfg.Metrics.Enabled {
		t.Fatalf("metrics should default on")
	}
}

func TestValidateRejectsBadAutostart(t *testing.T) {
	_, err := Load(writeConfig(t, `
[supervisor]
autostart = ["ticker", "nonsense"]
`))
	if err == nil {
		t.Fatalf("expected validation error for unknown autostart service")
	}
}

func TestValidateRejectsInconsistentSections(t *testing.T) {
	cases := []string{
		"[history]\nenabled = true\n",
		"[database]\nenabled = true\n",
		"[monitor]\ncheck_database = true\n",
		"[monitor]\ncheck_registry = true\n",
	}
	for _, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("expected validation error for config:\n%s", body)
		}
	}
}

func TestDefaultMatchesLoadOfEmptyFile(t *testing.T) {
	def := Default()
	loaded, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Server != loaded.Server || def.Supervisor.StartGrace != loaded.Supervisor.StartGrace {
		t.Fatalf("defaults diverge: %+v vs %+v", def.Server, loaded.Server)
	}
}
