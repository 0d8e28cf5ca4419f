package logging

import (
	"context"

	"github.com/vysogota0399/settlement_engine/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const fieldsCtxKey ctxKey = "logging_fields"

type ZapLogger struct {
	logger *zap.Logger
}

func NewZapLogger(cfg *config.Config) (*ZapLogger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.Level(cfg.LogLevel))

	logger, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapLogger{logger: logger}, nil
}

// WithContextFields returns a context carrying the given fields. Fields
// accumulate: a child context keeps the parent's fields.
func (l *ZapLogger) WithContextFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, fieldsCtxKey, append(l.ctxFields(ctx), fields...))
}

func (l *ZapLogger) ctxFields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(fieldsCtxKey).([]zap.Field)
	if !ok {
		return []zap.Field{}
	}

	return fields
}

func (l *ZapLogger) DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.logger.Debug(msg, append(l.ctxFields(ctx), fields...)...)
}

func (l *ZapLogger) InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.logger.Info(msg, append(l.ctxFields(ctx), fields...)...)
}

func (l *ZapLogger) WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.logger.Warn(msg, append(l.ctxFields(ctx), fields...)...)
}

func (l *ZapLogger) ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.logger.Error(msg, append(l.ctxFields(ctx), fields...)...)
}
