// Package config loads the TOML configuration file for the supervisr daemon.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/supervisr/internal/auth"
	"github.com/loykin/supervisr/internal/logger"
	"github.com/loykin/supervisr/internal/monitor"
	"github.com/loykin/supervisr/internal/registry"
	"github.com/loykin/supervisr/internal/supervisor"
)

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// SupervisorConfig maps to supervisor timing knobs plus the autostart list.
type SupervisorConfig struct {
	StartGrace   time.Duration `mapstructure:"start_grace"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
	RestartPause time.Duration `mapstructure:"restart_pause"`
	// Autostart lists services started as soon as the daemon boots.
	Autostart []string `mapstructure:"autostart"`
}

// RegistryConfig is the redis process registry section.
type RegistryConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	registry.Config `mapstructure:",squash"`
}

// DatabaseConfig points at the postgres pool the monitor pings.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// HistoryConfig selects the lifecycle event sink by DSN scheme.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DaemonConfig holds per-service collection settings.
type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DaemonsConfig groups the per-service sections.
type DaemonsConfig struct {
	Ticker  DaemonConfig `mapstructure:"ticker"`
	Ohlcv   DaemonConfig `mapstructure:"ohlcv"`
	Account DaemonConfig `mapstructure:"account"`
}

// Config is the top-level TOML structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       auth.Config      `mapstructure:"auth"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Monitor    monitor.Config   `mapstructure:"monitor"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Database   DatabaseConfig   `mapstructure:"database"`
	History    HistoryConfig    `mapstructure:"history"`
	Log        logger.Config    `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Daemons    DaemonsConfig    `mapstructure:"daemons"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8420")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("supervisor.start_grace", "250ms")
	v.SetDefault("supervisor.stop_grace", "5s")
	v.SetDefault("supervisor.restart_pause", "1s")
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.settle", "10s")
	v.SetDefault("monitor.auto_restart.enabled", true)
	v.SetDefault("monitor.auto_restart.max_restarts", 3)
	v.SetDefault("monitor.auto_restart.window", "10m")
	v.SetDefault("monitor.auto_restart.cooldown", "60s")
	v.SetDefault("monitor.stale_after", "1m")
	v.SetDefault("monitor.heartbeat_every", "30s")
	v.SetDefault("registry.addr", "localhost:6379")
	v.SetDefault("registry.key_prefix", "supervisr")
	v.SetDefault("registry.ttl", "15m")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; a decode failure here is a programming error.
		panic(err)
	}
	return &cfg
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	for _, raw := range c.Supervisor.Autostart {
		if _, err := supervisor.ParseServiceName(raw); err != nil {
			return fmt.Errorf("supervisor.autostart: %w", err)
		}
	}
	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history.enabled requires history.dsn")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.enabled requires database.dsn")
	}
	if c.Monitor.CheckDatabase && !c.Database.Enabled {
		return fmt.Errorf("monitor.check_database requires the database section")
	}
	if c.Monitor.CheckRegistry && !c.Registry.Enabled {
		return fmt.Errorf("monitor.check_registry requires the registry section")
	}
	return nil
}
