package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/model"
)

func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level      string
		enabled    zapcore.Level
		suppressed zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.InvalidLevel},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"bogus", zapcore.InfoLevel, zapcore.DebugLevel},
		{"", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level}, "onboard", "test")
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("%s should be enabled", tt.enabled)
			}
			if tt.suppressed != zapcore.InvalidLevel && logger.Core().Enabled(tt.suppressed) {
				t.Errorf("%s should be suppressed", tt.suppressed)
			}
		})
	}
}

func TestLoggerFrom(t *testing.T) {
	stored, fallback := zap.NewNop(), zap.NewNop()

	if got := LoggerFrom(WithLogger(context.Background(), stored), fallback); got != stored {
		t.Error("LoggerFrom did not return the stored logger")
	}
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom did not fall back")
	}
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name   string
		rctx   *model.RequestContext
		want   map[string]string
		absent []string
	}{
		{
			name:   "admin request",
			rctx:   &model.RequestContext{SubjectID: "admin-42", CorrelationID: "corr-abc", TraceID: "trace-xyz", RemoteAddr: "10.0.0.1"},
			want:   map[string]string{"subject_id": "admin-42", "correlation_id": "corr-abc", "trace_id": "trace-xyz"},
			absent: []string{"remote_addr"},
		},
		{
			name:   "public signing request",
			rctx:   &model.RequestContext{CorrelationID: "corr-sig", RemoteAddr: "203.0.113.9"},
			want:   map[string]string{"remote_addr": "203.0.113.9", "correlation_id": "corr-sig"},
			absent: []string{"subject_id", "trace_id"},
		},
		{
			name:   "no request context",
			absent: []string{"subject_id", "correlation_id", "remote_addr"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ctx := context.Background()
			if tt.rctx != nil {
				ctx = model.WithRequestContext(ctx, tt.rctx)
			}

			RequestLogger(ctx, newTestLogger(&buf)).Info("contract sent")
			entry := decodeEntry(t, &buf)

			if entry["msg"] != "contract sent" {
				t.Errorf("msg = %v", entry["msg"])
			}
			for k, v := range tt.want {
				if entry[k] != v {
					t.Errorf("%s = %v, want %q", k, entry[k], v)
				}
			}
			for _, k := range tt.absent {
				if _, ok := entry[k]; ok {
					t.Errorf("%s should not be logged", k)
				}
			}
		})
	}
}

func TestRequestLogger_prefersContextLogger(t *testing.T) {
	var stored, fallback bytes.Buffer
	ctx := WithLogger(context.Background(), newTestLogger(&stored))

	RequestLogger(ctx, newTestLogger(&fallback)).Info("x")

	if stored.Len() == 0 || fallback.Len() != 0 {
		t.Errorf("stored=%q fallback=%q", stored.String(), fallback.String())
	}
}

func TestRedactJSON(t *testing.T) {
	raw := []byte(`{
		"type": "drawn",
		"data": "data:image/png;base64,iVBORw0KGgo=",
		"personal": {"first_name": "Jane", "email": "jane@example.com", "passport_number": "P123"},
		"documents": [{"kind": "passport", "token": "abc"}],
		"rate": 120
	}`)

	got, ok := RedactJSON(raw).(map[string]any)
	if !ok {
		t.Fatalf("RedactJSON returned %T", RedactJSON(raw))
	}

	if got["type"] != "drawn" || got["rate"] != float64(120) {
		t.Errorf("plain fields changed: %v", got)
	}
	if got["data"] != redacted {
		t.Errorf("data = %v, want redacted", got["data"])
	}
	personal := got["personal"].(map[string]any)
	if personal["first_name"] != "Jane" || personal["email"] != "jane@example.com" {
		t.Errorf("personal = %v", personal)
	}
	if personal["passport_number"] != redacted {
		t.Errorf("passport_number = %v, want redacted", personal["passport_number"])
	}
	doc := got["documents"].([]any)[0].(map[string]any)
	if doc["kind"] != "passport" || doc["token"] != redacted {
		t.Errorf("documents[0] = %v", doc)
	}
}

func TestRedactJSON_extraFields(t *testing.T) {
	got := RedactJSON([]byte(`{"email":"jane@example.com","phone":"+974 5555"}`), "email").(map[string]any)

	if got["email"] != redacted {
		t.Errorf("email = %v, want redacted", got["email"])
	}
	if got["phone"] != "+974 5555" {
		t.Errorf("phone = %v", got["phone"])
	}
	// extra fields apply to one call only
	again := RedactJSON([]byte(`{"email":"jane@example.com"}`)).(map[string]any)
	if again["email"] != "jane@example.com" {
		t.Errorf("email leaked into the default mask: %v", again["email"])
	}
}

func TestRedactJSON_notAnObject(t *testing.T) {
	for _, raw := range []string{``, `not json`, `"a string"`, `[1,2]`} {
		if got := RedactJSON([]byte(raw)); got != redacted {
			t.Errorf("RedactJSON(%q) = %v, want %q", raw, got, redacted)
		}
	}
}
