// Package client talks to a running supervisr daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client provides HTTP access to the supervisr control surface.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string // bearer token, usually from Login
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8420/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a supervisr API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8420/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) { c.token = token }

// ErrorResponse is the error body returned by the daemon.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServiceStatus mirrors the daemon's status payload.
type ServiceStatus struct {
	Service          string    `json:"service"`
	State            string    `json:"state"`
	IsRunning        bool      `json:"is_running"`
	Restarts         int       `json:"restarts"`
	TaskAlive        bool      `json:"task_alive"`
	DaemonRunning    bool      `json:"daemon_running"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	LastError        string    `json:"last_error,omitempty"`
}

// Token is the bearer token issued by Login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginResponse struct {
	Token Token `json:"token"`
}

// Login authenticates against the daemon and stores the returned token on
// the client.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token.Value
	return &resp.Token, nil
}

// StartService starts the named service and returns its status.
func (c *Client) StartService(ctx context.Context, name string) (*ServiceStatus, error) {
	var st ServiceStatus
	if err := c.do(ctx, http.MethodPost, "/services/"+name+"/start", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StopService stops the named service and returns its status.
func (c *Client) StopService(ctx context.Context, name string) (*ServiceStatus, error) {
	var st ServiceStatus
	if err := c.do(ctx, http.MethodPost, "/services/"+name+"/stop", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RestartService restarts the named service and returns its status.
func (c *Client) RestartService(ctx context.Context, name string) (*ServiceStatus, error) {
	var st ServiceStatus
	if err := c.do(ctx, http.MethodPost, "/services/"+name+"/restart", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ServiceStatus fetches the status of one service.
func (c *Client) ServiceStatus(ctx context.Context, name string) (*ServiceStatus, error) {
	var st ServiceStatus
	if err := c.do(ctx, http.MethodGet, "/services/"+name+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListServices fetches the status of every managed service, keyed by name.
func (c *Client) ListServices(ctx context.Context) (map[string]ServiceStatus, error) {
	var out struct {
		Services map[string]ServiceStatus `json:"services"`
	}
	if err := c.do(ctx, http.MethodGet, "/services", nil, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// Health reports whether the daemon itself is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// TriggerHealthCheck runs an on-demand monitor pass and returns the raw
// result payload.
func (c *Client) TriggerHealthCheck(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/health/check", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsReachable checks whether the daemon answers on its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("daemon unreachable", "err", err)
	}
	return err == nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("http request failed", "method", method, "path", path, "err", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("api error: %s: %s", e.Error, e.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
