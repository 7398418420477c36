package recon

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	LoggerContextKey  ContextKey = "logger"
	SessionContextKey ContextKey = "session"
	SeqContextKey     ContextKey = "seq"
)

// WithLogger attaches a logger for node bodies to use.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// WithSession attaches the session being traversed and the Seq of the
// checkpoint the running node will produce.
func WithSession(ctx context.Context, sessionID string, seq int64) context.Context {
	ctx = context.WithValue(ctx, SessionContextKey, sessionID)
	return context.WithValue(ctx, SeqContextKey, seq)
}

// LoggerFromContext returns the context logger, or a discarding logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return discardLogger()
}

// SessionFromContext returns the session ID and pending Seq.
func SessionFromContext(ctx context.Context) (string, int64, bool) {
	sessionID, ok := ctx.Value(SessionContextKey).(string)
	if !ok {
		return "", 0, false
	}
	seq, _ := ctx.Value(SeqContextKey).(int64)
	return sessionID, seq, true
}
