// Package server exposes the HTTP control surface: lifecycle operations on
// the managed services, the health endpoints, operator login, and metrics.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/supervisr/internal/auth"
	"github.com/loykin/supervisr/internal/metrics"
	"github.com/loykin/supervisr/internal/monitor"
	"github.com/loykin/supervisr/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the control surface.
// Endpoints under basePath:
//
//	POST /auth/login                       open
//	GET  /health                           open, aggregate health
//	GET  /health/services                  open, per-service status
//	GET  /health/monitor                   open, monitor status
//	POST /health/check                     admin, on-demand monitor pass
//	GET  /services                         admin
//	GET  /services/:name/status            admin
//	POST /services/:name/start|stop|restart  admin
//	GET  /metrics                          open, when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	mon      *monitor.Monitor
	authSvc  *auth.Service
	mw       *auth.Middleware
	basePath string
	metrics  bool
	started  time.Time
}

// Options bundles the optional pieces of the control surface.
type Options struct {
	BasePath    string
	AuthService *auth.Service
	AuthEnabled bool
	Monitor     *monitor.Monitor
	Metrics     bool
}

// NewRouter constructs a router over the supervisor.
func NewRouter(sup *supervisor.Supervisor, opts Options) *Router {
	return &Router{
		sup:      sup,
		mon:      opts.Monitor,
		authSvc:  opts.AuthService,
		mw:       auth.NewMiddleware(opts.AuthService, opts.AuthEnabled && opts.AuthService != nil),
		basePath: sanitizeBase(opts.BasePath),
		metrics:  opts.Metrics,
		started:  time.Now(),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.POST("/auth/login", r.handleLogin)

	group.GET("/health", r.handleHealth)
	group.GET("/health/services", r.handleHealthServices)
	group.GET("/health/monitor", r.handleHealthMonitor)
	// Triggers restarts, so it is gated like the lifecycle operations.
	group.POST("/health/check", r.mw.GinAuth(), r.mw.GinRequireAdmin(), r.handleHealthCheck)

	// The whole group is admin-only, status reads included.
	svc := group.Group("/services", r.mw.GinAuth(), r.mw.GinRequireAdmin())
	svc.GET("", r.handleListServices)
	svc.GET("/:name/status", r.handleServiceStatus)
	svc.POST("/:name/start", r.handleStart)
	svc.POST("/:name/stop", r.handleStop)
	svc.POST("/:name/restart", r.handleRestart)

	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, sup *supervisor.Supervisor, opts Options) *http.Server {
	r := NewRouter(sup, opts)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

func (r *Router) handleLogin(c *gin.Context) {
	if r.authSvc == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "auth_disabled", Message: "Authentication is not configured"})
		return
	}
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid_request", Message: "Invalid request format"})
		return
	}
	tok, id, err := r.authSvc.Login(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid_credentials", Message: "Invalid username or password"})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "login_failed", Message: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"token": tok, "user": id})
}

func (r *Router) parseName(c *gin.Context) (supervisor.ServiceName, bool) {
	name, err := supervisor.ParseServiceName(c.Param("name"))
	if err != nil {
		writeServiceError(c, err)
		return "", false
	}
	return name, true
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := r.parseName(c)
	if !ok {
		return
	}
	if err := r.sup.Start(c.Request.Context(), name); err != nil {
		writeServiceError(c, err)
		return
	}
	st, _ := r.sup.Status(name)
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := r.parseName(c)
	if !ok {
		return
	}
	if err := r.sup.Stop(c.Request.Context(), name); err != nil {
		writeServiceError(c, err)
		return
	}
	st, _ := r.sup.Status(name)
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := r.parseName(c)
	if !ok {
		return
	}
	if err := r.sup.Restart(c.Request.Context(), name); err != nil {
		writeServiceError(c, err)
		return
	}
	st, _ := r.sup.Status(name)
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleServiceStatus(c *gin.Context) {
	name, ok := r.parseName(c)
	if !ok {
		return
	}
	st, err := r.sup.Status(name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleListServices(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"services": serviceMap(r.sup.StatusAll())})
}

// serviceMap keys status views by service name for API responses.
func serviceMap(views []supervisor.StatusView) map[string]supervisor.StatusView {
	out := make(map[string]supervisor.StatusView, len(views))
	for _, v := range views {
		out[string(v.Service)] = v
	}
	return out
}

// handleHealth assembles the aggregate view: every managed service plus the
// monitor's last database and registry checks. Overall status is healthy only
// when everything passes.
func (r *Router) handleHealth(c *gin.Context) {
	views := r.sup.StatusAll()
	healthy := true
	for _, v := range views {
		if v.State == supervisor.StateFailed {
			healthy = false
		}
	}
	resp := gin.H{
		"uptime":   time.Since(r.started).Truncate(time.Second).String(),
		"services": serviceMap(views),
	}
	if r.mon != nil {
		if last := r.mon.Status().LastResult; last != nil {
			if last.Database != "" {
				resp["database"] = last.Database
				if last.Database != "ok" {
					healthy = false
				}
			}
			if last.Registry != "" {
				resp["registry"] = last.Registry
				if last.Registry != "ok" {
					healthy = false
				}
			}
		}
	}
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	resp["status"] = status
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleHealthServices(c *gin.Context) {
	views := r.sup.StatusAll()
	healthy := true
	for _, v := range views {
		if v.State == supervisor.StateFailed {
			healthy = false
		}
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, gin.H{"healthy": healthy, "services": serviceMap(views)})
}

func (r *Router) handleHealthMonitor(c *gin.Context) {
	if r.mon == nil {
		writeJSON(c, http.StatusOK, gin.H{"running": false})
		return
	}
	writeJSON(c, http.StatusOK, r.mon.Status())
}

func (r *Router) handleHealthCheck(c *gin.Context) {
	if r.mon == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "monitor_disabled", Message: "Health monitor is not configured"})
		return
	}
	res := r.mon.RunOnce(c.Request.Context())
	writeJSON(c, http.StatusOK, res)
}
