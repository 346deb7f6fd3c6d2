package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelInfo, true)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx = ContextWithRemoteAddr(ctx, "10.0.0.1")
	log.WithContext(ctx).WithComponent("recorder").Info("line appended")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log output: %v", err)
	}

	if entry["request_id"] != "req-42" {
		t.Errorf("expected request_id req-42, got %v", entry["request_id"])
	}
	if entry["remote_addr"] != "10.0.0.1" {
		t.Errorf("expected remote_addr 10.0.0.1, got %v", entry["remote_addr"])
	}
	if entry["component"] != "recorder" {
		t.Errorf("expected component recorder, got %v", entry["component"])
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}

	ctx := ContextWithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}
