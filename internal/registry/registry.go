package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config describes the Redis connection used for the process registry.
type Config struct {
	Addr      string        `json:"addr" mapstructure:"addr"`
	Password  string        `json:"password" mapstructure:"password"`
	DB        int           `json:"db" mapstructure:"db"`
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `json:"ttl" mapstructure:"ttl"`
}

// Registry is a Redis-backed registry of live daemon components. Daemons
// publish heartbeats into it; the health monitor reads it back to spot
// components that have gone quiet. Entries expire on their own via TTL, so a
// crashed process cannot leave a permanently "alive" record behind.
type Registry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// ProcessInfo is one registry entry as seen by readers.
type ProcessInfo struct {
	Component string    `json:"component"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

const defaultTTL = 15 * time.Minute

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Registry, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "supervisr"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Registry{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (r *Registry) key(component string) string {
	return r.prefix + ":process:" + component
}

// UpdateHeartbeat records that component is alive right now.
func (r *Registry) UpdateHeartbeat(ctx context.Context, component, status string) error {
	key := r.key(component)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key,
		"component", component,
		"status", status,
		"last_seen", strconv.FormatInt(time.Now().UTC().Unix(), 10),
	)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes a component's registry entry.
func (r *Registry) Remove(ctx context.Context, component string) error {
	return r.client.Del(ctx, r.key(component)).Err()
}

// ActiveProcesses returns all registry entries that have not yet expired.
func (r *Registry) ActiveProcesses(ctx context.Context) ([]ProcessInfo, error) {
	var (
		out    []ProcessInfo
		cursor uint64
	)
	pattern := r.prefix + ":process:*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			fields, err := r.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, err
			}
			if len(fields) == 0 {
				continue // expired between SCAN and HGETALL
			}
			info := ProcessInfo{
				Component: fields["component"],
				Status:    fields["status"],
			}
			if ts, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
				info.LastSeen = time.Unix(ts, 0).UTC()
			}
			out = append(out, info)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Ping verifies the Redis connection is usable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Registry) Close() error {
	return r.client.Close()
}
