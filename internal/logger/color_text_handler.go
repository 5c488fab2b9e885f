package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

// levelColors maps slog levels to ANSI foreground colors.
var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// ColorTextHandler decorates slog.TextHandler records with a colored,
// width-aligned level tag. Supervisor and daemon lines interleave on the
// console, so the fixed-width tag keeps columns readable at a glance.
type ColorTextHandler struct {
	*slog.TextHandler
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	color, ok := levelColors[r.Level]
	if !ok {
		color = ansiReset
	}
	r.Message = fmt.Sprintf("%s%-5s%s %s", color, r.Level.String(), ansiReset, r.Message)
	return h.TextHandler.Handle(ctx, r)
}
