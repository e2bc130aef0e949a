package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, format, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: format, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

func TestNew_JSONOutput(t *testing.T) {
	l, buf := newBufferLogger(t, "json", "info")
	l.Info("session opened", "session", "room-1", "participants", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "session opened" || entry["session"] != "room-1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	l, buf := newBufferLogger(t, "text", "info")
	l.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(t, "json", "warn")
	defer SetLevel("info")

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level: %s", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn should pass at warn level")
	}

	SetLevel("debug")
	if GetLevel() != "debug" {
		t.Errorf("GetLevel() = %q, want debug", GetLevel())
	}
	buf.Reset()
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel should apply to existing loggers")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"WARNING": "warn",
		"error":   "error",
		"bogus":   "info",
		"":        "info",
	}
	defer SetLevel("info")
	for in, want := range tests {
		SetLevel(in)
		if got := GetLevel(); got != want {
			t.Errorf("SetLevel(%q) -> GetLevel() = %q, want %q", in, got, want)
		}
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferLogger(t, "json", "info")
	l.With("component", "coordinator").Info("ready")
	if !strings.Contains(buf.String(), `"component":"coordinator"`) {
		t.Errorf("With() attrs missing: %s", buf.String())
	}
}

func TestSlog_KeepsRedaction(t *testing.T) {
	l, buf := newBufferLogger(t, "json", "info")
	Slog(l).Info("archive", "encryption_key", "amk_0123456789abcdef")
	if strings.Contains(buf.String(), "0123456789abcdef") {
		t.Errorf("key material leaked: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	// Should not panic
	Discard().Error("ignored")
	if OrDiscard(nil) == nil {
		t.Error("OrDiscard(nil) should return a logger")
	}
}

func TestContextHelpers(t *testing.T) {
	l, buf := newBufferLogger(t, "json", "info")
	ctx := WithLogger(context.Background(), l)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "room-9")

	if RequestIDFromContext(ctx) != "req-1" || SessionIDFromContext(ctx) != "room-9" {
		t.Fatal("context values not propagated")
	}
	L(ctx).Info("handled")
	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-1"`) || !strings.Contains(out, `"session_id":"room-9"`) {
		t.Errorf("L() should enrich the logger: %s", out)
	}

	if FromContext(context.Background()) != Default() {
		t.Error("FromContext without a logger should return Default()")
	}
}
