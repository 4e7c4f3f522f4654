package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Auth          AuthConfig          `yaml:"auth"`
	Registry      RegistryConfig      `yaml:"registry"`
	Poller        PollerConfig        `yaml:"poller"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Database      DatabaseConfig      `yaml:"database"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the downstream HTTP/WebSocket server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadLimit       int64         `yaml:"read_limit"`  // Max inbound client frame size (bytes)
	SendBuffer      int           `yaml:"send_buffer"` // Per-client outbound frame queue
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // Empty = any origin
}

// ProviderConfig holds market-data provider (Finnhub) settings shared by the
// streaming link and the REST quote client.
type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	WSURL             string        `yaml:"ws_url"`
	RestURL           string        `yaml:"rest_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// UpstreamConfig holds streaming link settings.
type UpstreamConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReadTimeout    time.Duration `yaml:"read_timeout"` // No inbound frame for this long = stale
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// AuthConfig holds downstream connection authentication settings.
type AuthConfig struct {
	Disabled           bool          `yaml:"disabled"` // Local development only
	IssuerURL          string        `yaml:"issuer_url"`
	Audience           string        `yaml:"audience"`
	JWKSURL            string        `yaml:"jwks_url"`        // Defaults to {issuer}.well-known/jwks.json
	PublicKeyPath      string        `yaml:"public_key_path"` // Static PEM key instead of JWKS
	JWKSCacheTTL       time.Duration `yaml:"jwks_cache_ttl"`
	JWKSRequestsPerMin int           `yaml:"jwks_requests_per_minute"`
	Leeway             time.Duration `yaml:"leeway"`
}

// RegistryConfig holds subscription registry settings.
type RegistryConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
}

// PollerConfig holds fallback quote poller settings.
type PollerConfig struct {
	Enabled           *bool         `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	SkipIfTickEnabled *bool         `yaml:"skip_if_tick_enabled"`
	SkipIfTickWithin  time.Duration `yaml:"skip_if_tick_within"`
	Concurrency       int           `yaml:"concurrency"`
	Timeout           time.Duration `yaml:"timeout"`
	MarketHoursOnly   bool          `yaml:"market_hours_only"`
	Calendar          string        `yaml:"calendar"` // Exchange MIC, e.g. "xnys"
}

// IsEnabled reports whether fallback polling runs. Unset means enabled.
func (p PollerConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// SkipIfTick reports whether recent ticks suppress polling. Unset means enabled.
func (p PollerConfig) SkipIfTick() bool {
	return p.SkipIfTickEnabled == nil || *p.SkipIfTickEnabled
}

// AlertsConfig holds alert store and evaluator settings.
type AlertsConfig struct {
	Store       string        `yaml:"store"` // "postgres" or "memory"
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	EvalTimeout time.Duration `yaml:"eval_timeout"`
}

// DatabaseConfig holds the Postgres connection backing the alert store.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection. URL, when set, takes
// precedence over the individual fields.
type DBConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// NotificationsConfig holds alert notification sinks.
type NotificationsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds the alert-triggered topic producer settings.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// LoggingConfig holds log handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
