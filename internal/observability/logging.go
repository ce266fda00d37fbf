package observability

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/model"
)

type loggerKey struct{}

// NewLogger builds the service's JSON logger. Every entry carries the
// service name and the build version so logs from several deployments can
// share one index.
//
// Level conventions:
//   - error: infrastructure failures and 5xx responses
//   - warn:  client errors, swallowed render or email failures
//   - info:  requests and contractor status transitions
//   - debug: capability cache, substitution and render detail
func NewLogger(cfg config.ObservabilityConfig, service, version string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"service": service,
			"version": version,
		},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger enriched with the request's
// actor and correlation fields. Admin requests log the subject; public
// signing requests have none and log the caller's address instead.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{zap.String("correlation_id", rctx.CorrelationID)}
	if rctx.SubjectID != "" {
		fields = append(fields, zap.String("subject_id", rctx.SubjectID))
	} else if rctx.RemoteAddr != "" {
		fields = append(fields, zap.String("remote_addr", rctx.RemoteAddr))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// sensitiveFields never reach a log line: signing tokens, signature
// payloads, credentials and identity numbers.
var sensitiveFields = map[string]bool{
	"authorization":      true,
	"password":           true,
	"password_hash":      true,
	"temporary_password": true,
	"secret":             true,
	"token":              true,
	"contract_token":     true,
	"signing_url":        true,
	"signature":          true,
	"data":               true,
	"passport_number":    true,
	"national_id":        true,
}

const redacted = "[REDACTED]"

// RedactJSON decodes a JSON request body and masks sensitive fields at any
// depth, including inside arrays. extra adds field names for one call. A
// body that is not a JSON object is replaced wholesale.
func RedactJSON(raw []byte, extra ...string) any {
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return redacted
	}
	mask := sensitiveFields
	if len(extra) > 0 {
		mask = make(map[string]bool, len(sensitiveFields)+len(extra))
		for k := range sensitiveFields {
			mask[k] = true
		}
		for _, f := range extra {
			mask[f] = true
		}
	}
	if _, ok := body.(map[string]any); !ok {
		return redacted
	}
	return redact(body, mask)
}

func redact(v any, mask map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if mask[k] {
				out[k] = redacted
				continue
			}
			out[k] = redact(val, mask)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redact(val, mask)
		}
		return out
	default:
		return v
	}
}
