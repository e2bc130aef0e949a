package logger

import (
	"log/slog"
	"testing"
)

func TestRedactSensitive(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"key material prefix", slog.String("value", "amk_ABCDEFGHIJKLMNOP"), "amk_ABC...NOP"},
		{"short key material", slog.String("value", "amk_ABC"), "amk_***"},
		{"secret key name", slog.String("redis_password", "hunter2"), redactedValue},
		{"empty secret", slog.String("password", ""), ""},
		{"dsn", slog.String("dsn", "postgres://app:s3cret@db:5432/annomesh"), "postgres://app:xxxxx@db:5432/annomesh"},
		{"addr without userinfo", slog.String("redis_addr", "localhost:6379"), "localhost:6379"},
		{"plain value", slog.String("session", "room-1"), "room-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactSensitive(tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("redactSensitive() = %q, want %q", got.Value.String(), tt.want)
			}
		})
	}
}

func TestRedactSensitive_Group(t *testing.T) {
	g := slog.Group("relay", slog.String("token", "abc"), slog.String("subject", "annomesh.room"))
	got := redactSensitive(g)
	attrs := got.Value.Group()
	if attrs[0].Value.String() != redactedValue {
		t.Errorf("nested token = %q", attrs[0].Value.String())
	}
	if attrs[1].Value.String() != "annomesh.room" {
		t.Errorf("nested subject = %q", attrs[1].Value.String())
	}
}

func TestRedactString(t *testing.T) {
	if got := RedactString("amk_ABCDEFGHIJ"); got != "amk_ABC...HIJ" {
		t.Errorf("RedactString() = %q", got)
	}
	if got := RedactString("room-1"); got != "room-1" {
		t.Errorf("RedactString() = %q", got)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for key, want := range map[string]bool{
		"api_key":     true,
		"PASSWORD":    true,
		"auth_header": true,
		"session":     false,
		"participant": false,
	} {
		if got := IsSensitiveKey(key); got != want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
