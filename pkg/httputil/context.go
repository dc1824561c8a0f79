package httputil

import (
	"context"

	"go.uber.org/zap"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LoggerCtxKey    ContextKey = "Logger"
)

// RequestID returns the request id stored by the RequestID middleware.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDCtxKey).(string)
	return id, ok && id != ""
}

// Logger returns the request-scoped logger stored by the access log
// middleware, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerCtxKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}
