package config

import "time"

// ServerConfig is the root configuration for annomesh-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Session  SessionSection  `koanf:"session"`
	Relay    RelaySection    `koanf:"relay"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
	Metrics  MetricsSection  `koanf:"metrics"`
	Tracing  TracingSection  `koanf:"tracing"`
}

// ServerSection configures the network endpoints.
type ServerSection struct {
	// NodeID names this process in relay frames. A ULID is generated when
	// empty.
	NodeID string `koanf:"node_id"`

	// AdminSocket is the path of the local administration socket. Empty
	// disables it.
	AdminSocket string `koanf:"admin_socket"`

	HTTP      HTTPConfig      `koanf:"http"`
	WebSocket WebSocketConfig `koanf:"websocket"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// TLSClientCAFile enables mutual TLS: clients must present a
	// certificate signed by a CA in this PEM file or directory.
	TLSClientCAFile string `koanf:"tls_client_ca_file"`

	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`

	// RateLimit is the per-client request rate for /v1 endpoints in
	// requests per second. Zero disables it.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// CORSOrigins lists origins allowed to call the /v1 API from a browser.
	CORSOrigins []string `koanf:"cors_origins"`
}

// WebSocketConfig configures the participant gateway.
type WebSocketConfig struct {
	MaxMessageSize int64         `koanf:"max_message_size"`
	SendBuffer     int           `koanf:"send_buffer"`
	MessageRate    float64       `koanf:"message_rate"`
	MessageBurst   int           `koanf:"message_burst"`
	PongTimeout    time.Duration `koanf:"pong_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// SessionSection configures the coordinators.
type SessionSection struct {
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	PresenceThreshold time.Duration `koanf:"presence_threshold"`
	HistoryCapacity   int           `koanf:"history_capacity"`
	BacklogSize       int           `koanf:"backlog_size"`
	RetryInterval     time.Duration `koanf:"retry_interval"`
	QueueSize         int           `koanf:"queue_size"`
}

// RelaySection configures fan-out between server nodes.
type RelaySection struct {
	// Kind is none, nats or redis.
	Kind string `koanf:"kind"`

	NATS  NATSConfig  `koanf:"nats"`
	Redis RedisConfig `koanf:"redis"`
}

// NATSConfig configures the NATS relay.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedisConfig configures the Redis relay.
type RedisConfig struct {
	Addr          string `koanf:"addr"`
	Password      string `koanf:"password"`
	DB            int    `koanf:"db"`
	ChannelPrefix string `koanf:"channel_prefix"`
}

// StorageSection configures the session archive.
type StorageSection struct {
	// Kind is none, memory, badger or postgres.
	Kind string `koanf:"kind"`

	DataDir    string        `koanf:"data_dir"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`

	PostgresDSN      string `koanf:"postgres_dsn"`
	PostgresMaxConns int32  `koanf:"postgres_max_conns"`

	// Writers and QueueSize size the asynchronous archive writer pool.
	Writers   int `koanf:"writers"`
	QueueSize int `koanf:"queue_size"`
}

// SecuritySection configures encryption at rest.
type SecuritySection struct {
	// EncryptionKey, when set, encrypts badger archive values with a key
	// derived from it.
	EncryptionKey string `koanf:"encryption_key"`

	// Cipher is auto, aes-gcm or chacha20-poly1305.
	Cipher string `koanf:"cipher"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// TracingSection configures OpenTelemetry tracing.
type TracingSection struct {
	Enabled bool `koanf:"enabled"`

	// Exporter is none or stdout.
	Exporter string `koanf:"exporter"`

	// Output is the file spans are appended to. Empty means stdout.
	Output string `koanf:"output"`

	SampleRatio float64 `koanf:"sample_ratio"`
}
