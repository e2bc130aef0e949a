package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr          = "127.0.0.1:7480"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultRateLimit         = 20
	DefaultRateBurst         = 40

	DefaultMaxMessageSize = 64 << 10
	DefaultSendBuffer     = 256
	DefaultMessageRate    = 50
	DefaultMessageBurst   = 100
	DefaultPongTimeout    = 60 * time.Second

	DefaultIdleTimeout       = 5 * time.Minute
	DefaultPresenceThreshold = 10 * time.Second
	DefaultHistoryCapacity   = 500
	DefaultBacklogSize       = 1024
	DefaultRetryInterval     = 2 * time.Second
	DefaultQueueSize         = 4096

	DefaultRelayKind = "none"
	DefaultNATSURL   = "nats://127.0.0.1:4222"
	DefaultRedisAddr = "127.0.0.1:6379"

	DefaultStorageKind    = "memory"
	DefaultDataDir        = "/var/lib/annomesh-server/data"
	DefaultGCInterval     = 10 * time.Minute
	DefaultArchiveWriters = 4
	DefaultArchiveQueue   = 4096

	DefaultCipher = "auto"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsPath = "/metrics"

	DefaultTracingExporter = "stdout"
	DefaultSampleRatio     = 1.0
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:              DefaultHTTPAddr,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ShutdownTimeout:   DefaultShutdownTimeout,
				RateLimit:         DefaultRateLimit,
				RateBurst:         DefaultRateBurst,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: DefaultMaxMessageSize,
				SendBuffer:     DefaultSendBuffer,
				MessageRate:    DefaultMessageRate,
				MessageBurst:   DefaultMessageBurst,
				PongTimeout:    DefaultPongTimeout,
			},
		},
		Session: SessionSection{
			IdleTimeout:       DefaultIdleTimeout,
			PresenceThreshold: DefaultPresenceThreshold,
			HistoryCapacity:   DefaultHistoryCapacity,
			BacklogSize:       DefaultBacklogSize,
			RetryInterval:     DefaultRetryInterval,
			QueueSize:         DefaultQueueSize,
		},
		Relay: RelaySection{
			Kind:  DefaultRelayKind,
			NATS:  NATSConfig{URL: DefaultNATSURL},
			Redis: RedisConfig{Addr: DefaultRedisAddr},
		},
		Storage: StorageSection{
			Kind:       DefaultStorageKind,
			DataDir:    DefaultDataDir,
			GCInterval: DefaultGCInterval,
			Writers:    DefaultArchiveWriters,
			QueueSize:  DefaultArchiveQueue,
		},
		Security: SecuritySection{
			Cipher: DefaultCipher,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Tracing: TracingSection{
			Exporter:    DefaultTracingExporter,
			SampleRatio: DefaultSampleRatio,
		},
	}
}
