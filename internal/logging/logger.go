// internal/logging/logger.go
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// WithRequestIDValue stashes a request id in the context for WithRequestID.
func WithRequestIDValue(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Logger wraps zap with the request and operation fields the engine tags
// its entries with.
type Logger struct {
	*zap.Logger
}

func NewLogger(level string) (*Logger, error) {
	if level == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{logger}, nil
}

// WithRequestID tags entries with the request id carried in ctx, if any.
func (l *Logger) WithRequestID(ctx context.Context) *zap.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return l.With(zap.String("request_id", id))
	}
	return l.Logger
}

// WithOperation tags log entries with the store operation being committed.
func (l *Logger) WithOperation(opID string) *zap.Logger {
	return l.With(zap.String("operation_id", opID))
}
