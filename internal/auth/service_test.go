package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{TokenTTL: time.Hour, BcryptCost: 4})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestLoginAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "s3cret", []string{RoleAdmin}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	tok, id, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "s3cret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tok.Type != "Bearer" || tok.Value == "" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if !id.IsAdmin() {
		t.Fatalf("expected admin identity")
	}

	got, err := svc.Verify(tok.Value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Username != "alice" || !got.IsAdmin() {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "bob", "pw", nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	cases := []LoginRequest{
		{Username: "bob", Password: "wrong"},
		{Username: "nobody", Password: "pw"},
		{Username: "", Password: "pw"},
		{Username: "bob", Password: ""},
	}
	for _, req := range cases {
		if _, _, err := svc.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %+v: expected ErrInvalidCredentials, got %v", req, err)
		}
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestService(t)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("verify %q: expected ErrInvalidCredentials, got %v", tok, err)
		}
	}
}

func TestUserLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "carol", "pw", []string{RoleViewer}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "carol", "pw2", nil); !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("duplicate create: expected ErrUserAlreadyExists, got %v", err)
	}
	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].Username != "carol" || users[0].PasswordHash != "" {
		t.Fatalf("unexpected users %+v", users)
	}
	if err := svc.DeleteUser(ctx, "carol"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteUser(ctx, "carol"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("second delete: expected ErrUserNotFound, got %v", err)
	}
}

func TestGinMiddlewareGates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "admin", "pw", []string{RoleAdmin}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "watcher", "pw", []string{RoleViewer}); err != nil {
		t.Fatalf("create viewer: %v", err)
	}

	mw := NewMiddleware(svc, true)
	r := gin.New()
	r.POST("/guarded", mw.GinAuth(), mw.GinRequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	adminTok, _, err := svc.Login(ctx, LoginRequest{Username: "admin", Password: "pw"})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	viewerTok, _, err := svc.Login(ctx, LoginRequest{Username: "watcher", Password: "pw"})
	if err != nil {
		t.Fatalf("viewer login: %v", err)
	}

	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", code)
	}
	if code := call("bogus"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", code)
	}
	if code := call(viewerTok.Value); code != http.StatusForbidden {
		t.Fatalf("viewer token: expected 403, got %d", code)
	}
	if code := call(adminTok.Value); code != http.StatusOK {
		t.Fatalf("admin token: expected 200, got %d", code)
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mw := NewMiddleware(nil, false)
	r := gin.New()
	r.GET("/open", mw.GinAuth(), mw.GinRequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", w.Code)
	}
}
