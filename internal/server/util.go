package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/supervisr/internal/supervisor"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeServiceError maps supervisor errors onto HTTP status codes.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, supervisor.ErrUnknownService):
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown_service", Message: err.Error()})
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "already_running", Message: err.Error()})
	case errors.Is(err, supervisor.ErrNotRunning):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "not_running", Message: err.Error()})
	case errors.Is(err, supervisor.ErrDaemonStart):
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "daemon_start_failed", Message: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "internal_error", Message: err.Error()})
	}
}
