package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/supervisr/internal/daemon"
	"github.com/loykin/supervisr/internal/server"
	"github.com/loykin/supervisr/internal/supervisor"
)

type idleDaemon struct{ name string }

func (d *idleDaemon) Name() string { return d.name }
func (d *idleDaemon) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (d *idleDaemon) Stop(context.Context) error { return nil }
func (d *idleDaemon) IsRunning() bool            { return false }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := supervisor.New(daemon.Set{
		Ticker:  &idleDaemon{name: "ticker"},
		Ohlcv:   &idleDaemon{name: "ohlcv"},
		Account: &idleDaemon{name: "account"},
	}, supervisor.Config{
		StartGrace:   10 * time.Millisecond,
		StopGrace:    100 * time.Millisecond,
		RestartPause: time.Millisecond,
	})
	srv := httptest.NewServer(server.NewRouter(sup, server.Options{BasePath: "/api"}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLifecycleRoundtrip(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatalf("daemon should be reachable")
	}

	st, err := c.StartService(ctx, "ticker")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.State != "running" || !st.IsRunning {
		t.Fatalf("unexpected status %+v", st)
	}

	all, err := c.ListServices(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 services, got %d", len(all))
	}
	if all["ticker"].State != "running" {
		t.Fatalf("list should key by name, got %+v", all)
	}

	st, err = c.StopService(ctx, "ticker")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st.State != "stopped" {
		t.Fatalf("expected stopped, got %+v", st)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	if _, err := c.StartService(ctx, "bogus"); err == nil || !strings.Contains(err.Error(), "unknown_service") {
		t.Fatalf("expected unknown_service error, got %v", err)
	}
	if _, err := c.StopService(ctx, "ticker"); err == nil || !strings.Contains(err.Error(), "not_running") {
		t.Fatalf("expected not_running error, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond})
	if c.IsReachable(context.Background()) {
		t.Fatalf("expected unreachable")
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "tok123"})
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}
