package config

import (
	"strings"

	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

// Sanitize returns a copy of cfg with secrets masked, for logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.Server.HTTP.CORSOrigins = append([]string(nil), cfg.Server.HTTP.CORSOrigins...)
	sanitized.Server.WebSocket.AllowedOrigins = append([]string(nil), cfg.Server.WebSocket.AllowedOrigins...)

	if sanitized.Security.EncryptionKey != "" {
		sanitized.Security.EncryptionKey = maskSecret(sanitized.Security.EncryptionKey)
	}
	if sanitized.Relay.Redis.Password != "" {
		sanitized.Relay.Redis.Password = maskSecret(sanitized.Relay.Redis.Password)
	}
	sanitized.Relay.NATS.URL = logger.RedactURL(sanitized.Relay.NATS.URL)
	sanitized.Storage.PostgresDSN = logger.RedactURL(sanitized.Storage.PostgresDSN)
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
