package logger

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func (l *LoggerClient) extractTracingFields(ctx context.Context) []zap.Field {
	if !l.tracingEnabled || ctx == nil {
		return nil
	}

	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if !spanContext.IsValid() {
		return nil
	}

	return []zap.Field{
		zap.String("trace_id", spanContext.TraceID().String()),
		zap.String("span_id", spanContext.SpanID().String()),
	}
}

// convertToZapFields flattens err and the field maps. Keys are sorted so
// entries are stable across runs.
func (l *LoggerClient) convertToZapFields(err error, fields ...map[string]interface{}) []zap.Field {
	var zapFields []zap.Field
	if err != nil {
		zapFields = append(zapFields, zap.Error(err))
	}

	for _, fieldMap := range fields {
		keys := make([]string, 0, len(fieldMap))
		for key := range fieldMap {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			zapFields = append(zapFields, zap.Any(key, fieldMap[key]))
		}
	}
	return zapFields
}

func (l *LoggerClient) log(ctx context.Context, level zapcore.Level, msg string, err error, fields []map[string]interface{}) {
	ce := l.Zap.Check(level, msg)
	if ce == nil {
		return
	}
	zapFields := l.convertToZapFields(err, fields...)
	zapFields = append(zapFields, l.extractTracingFields(ctx)...)
	ce.Write(zapFields...)
}

// Debug logs msg at debug level.
func (l *LoggerClient) Debug(msg string, err error, fields ...map[string]interface{}) {
	l.log(context.Background(), zapcore.DebugLevel, msg, err, fields)
}

// Info logs msg at info level.
func (l *LoggerClient) Info(msg string, err error, fields ...map[string]interface{}) {
	l.log(context.Background(), zapcore.InfoLevel, msg, err, fields)
}

// Warn logs msg at warn level.
func (l *LoggerClient) Warn(msg string, err error, fields ...map[string]interface{}) {
	l.log(context.Background(), zapcore.WarnLevel, msg, err, fields)
}

// Error logs msg at error level.
func (l *LoggerClient) Error(msg string, err error, fields ...map[string]interface{}) {
	l.log(context.Background(), zapcore.ErrorLevel, msg, err, fields)
}

// DebugWithContext is Debug with the trace and span ids of ctx.
func (l *LoggerClient) DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.DebugLevel, msg, err, fields)
}

// InfoWithContext is Info with the trace and span ids of ctx.
func (l *LoggerClient) InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.InfoLevel, msg, err, fields)
}

// WarnWithContext is Warn with the trace and span ids of ctx.
func (l *LoggerClient) WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.WarnLevel, msg, err, fields)
}

// ErrorWithContext is Error with the trace and span ids of ctx.
func (l *LoggerClient) ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.ErrorLevel, msg, err, fields)
}
