package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Accepted enumerations.
var (
	RelayKinds   = []string{"none", "nats", "redis"}
	StorageKinds = []string{"none", "memory", "badger", "postgres"}
	Ciphers      = []string{"auto", "aes-gcm", "chacha20-poly1305"}
	LogLevels    = []string{"debug", "info", "warn", "error"}
	LogFormats   = []string{"json", "text"}
	Exporters    = []string{"none", "stdout"}
)

// Verify validates cfg and reports every problem found. It creates the
// badger data directory if it does not exist.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyServer(&cfg.Server),
		verifySession(&cfg.Session),
		verifyRelay(&cfg.Relay),
		verifyStorage(&cfg.Storage),
		verifySecurity(&cfg.Security),
		verifyLog(&cfg.Log),
		verifyMetrics(&cfg.Metrics),
		verifyTracing(&cfg.Tracing),
	)
}

func verifyServer(cfg *ServerSection) error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr %q: %w", cfg.HTTP.Addr, err))
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http.tls_cert_file and tls_key_file must be set together"))
	}
	if cfg.HTTP.TLSClientCAFile != "" && cfg.HTTP.TLSCertFile == "" {
		errs = append(errs, errors.New("server.http.tls_client_ca_file requires tls_cert_file"))
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile, cfg.HTTP.TLSClientCAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("server.http tls file: %w", err))
		}
	}
	if cfg.AdminSocket != "" {
		if fi, err := os.Stat(filepath.Dir(cfg.AdminSocket)); err != nil || !fi.IsDir() {
			errs = append(errs, fmt.Errorf("server.admin_socket %q: parent directory does not exist", cfg.AdminSocket))
		}
	}
	if cfg.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("server.http.rate_limit must not be negative"))
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.RateBurst < 1 {
		errs = append(errs, errors.New("server.http.rate_burst must be at least 1 when rate_limit is set"))
	}
	ws := cfg.WebSocket
	if ws.MaxMessageSize < 1024 {
		errs = append(errs, errors.New("server.websocket.max_message_size must be at least 1024"))
	}
	if ws.SendBuffer < 1 {
		errs = append(errs, errors.New("server.websocket.send_buffer must be at least 1"))
	}
	if ws.MessageRate < 0 {
		errs = append(errs, errors.New("server.websocket.message_rate must not be negative"))
	}
	return errors.Join(errs...)
}

func verifySession(cfg *SessionSection) error {
	var errs []error
	if cfg.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if cfg.PresenceThreshold <= 0 {
		errs = append(errs, errors.New("session.presence_threshold must be positive"))
	}
	if cfg.HistoryCapacity < 1 {
		errs = append(errs, errors.New("session.history_capacity must be at least 1"))
	}
	if cfg.BacklogSize < 1 {
		errs = append(errs, errors.New("session.backlog_size must be at least 1"))
	}
	if cfg.RetryInterval <= 0 {
		errs = append(errs, errors.New("session.retry_interval must be positive"))
	}
	if cfg.QueueSize < 1 {
		errs = append(errs, errors.New("session.queue_size must be at least 1"))
	}
	return errors.Join(errs...)
}

func verifyRelay(cfg *RelaySection) error {
	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		return nil
	}
	if !slices.Contains(RelayKinds, kind) {
		return fmt.Errorf("relay.kind %q: must be one of %s", cfg.Kind, strings.Join(RelayKinds, ", "))
	}
	switch kind {
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("relay.nats.url is required")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("relay.redis.addr is required")
		}
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	kind := strings.ToLower(cfg.Kind)
	if !slices.Contains(StorageKinds, kind) {
		return fmt.Errorf("storage.kind %q: must be one of %s", cfg.Kind, strings.Join(StorageKinds, ", "))
	}
	var errs []error
	switch kind {
	case "badger":
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required for badger"))
		} else if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			errs = append(errs, fmt.Errorf("cannot create data directory: %w", err))
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for postgres"))
		}
	}
	if kind != "none" {
		if cfg.Writers < 1 {
			errs = append(errs, errors.New("storage.writers must be at least 1"))
		}
		if cfg.QueueSize < 1 {
			errs = append(errs, errors.New("storage.queue_size must be at least 1"))
		}
	}
	return errors.Join(errs...)
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.Cipher != "" && !slices.Contains(Ciphers, strings.ToLower(cfg.Cipher)) {
		return fmt.Errorf("security.cipher %q: must be one of %s", cfg.Cipher, strings.Join(Ciphers, ", "))
	}
	if cfg.EncryptionKey != "" && len(cfg.EncryptionKey) < 16 {
		return errors.New("security.encryption_key must be at least 16 characters")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	if !slices.Contains(LogLevels, strings.ToLower(cfg.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q: must be one of %s", cfg.Level, strings.Join(LogLevels, ", ")))
	}
	if !slices.Contains(LogFormats, strings.ToLower(cfg.Format)) {
		errs = append(errs, fmt.Errorf("log.format %q: must be one of %s", cfg.Format, strings.Join(LogFormats, ", ")))
	}
	return errors.Join(errs...)
}

func verifyMetrics(cfg *MetricsSection) error {
	if cfg.Enabled && !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", cfg.Path)
	}
	return nil
}

func verifyTracing(cfg *TracingSection) error {
	if !cfg.Enabled {
		return nil
	}
	var errs []error
	if !slices.Contains(Exporters, strings.ToLower(cfg.Exporter)) {
		errs = append(errs, fmt.Errorf("tracing.exporter %q: must be one of %s", cfg.Exporter, strings.Join(Exporters, ", ")))
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v: must be between 0 and 1", cfg.SampleRatio))
	}
	return errors.Join(errs...)
}
