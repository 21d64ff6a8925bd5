package api

import (
	"log/slog"
	"net/http"
)

// traceLogger writes one structured entry per request and one per
// response, correlated by a generated trace id. Request bodies are never
// logged: the verify body carries the verification code.
type traceLogger struct {
	logger *slog.Logger
}

func newTraceLogger(logger *slog.Logger) *traceLogger {
	return &traceLogger{logger: logger.With("component", "api")}
}

func (t *traceLogger) request(r *http.Request, trace string) {
	t.logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
		slog.String("trace", trace),
		slog.String("method", r.Method),
		slog.String("url", r.URL.String()),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func (t *traceLogger) response(r *http.Request, trace string, status int) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	t.logger.LogAttrs(r.Context(), level, "response",
		slog.String("trace", trace),
		slog.Int("status_code", status),
		slog.String("status", http.StatusText(status)),
	)
}
