package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "gateway"
	DefaultPort                 = 3000
	DefaultReadLimit            = 4096
	DefaultSendBuffer           = 256
	DefaultServerWriteTimeout   = 2 * time.Second
	DefaultPongTimeout          = 60 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultProviderWSURL        = "wss://ws.finnhub.io"
	DefaultProviderRestURL      = "https://finnhub.io/api/v1"
	DefaultProviderTimeout      = 10 * time.Second
	DefaultMaxRetries           = 2
	DefaultRequestsPerSecond    = 1.0 // Finnhub free tier: 60/min
	DefaultReconnectDelay       = 1500 * time.Millisecond
	DefaultUpstreamReadTimeout  = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultUpstreamWriteTimeout = 5 * time.Second
	DefaultUpstreamBufferSize   = 4096
	DefaultJWKSCacheTTL         = 10 * time.Minute
	DefaultJWKSRequestsPerMin   = 5
	DefaultReconcileInterval    = 5 * time.Minute
	DefaultRefreshTimeout       = 15 * time.Second
	DefaultPollInterval         = 10 * time.Second
	DefaultSkipIfTickWithin     = 15 * time.Second
	DefaultPollConcurrency      = 4
	DefaultPollTimeout          = 8 * time.Second
	DefaultCalendar             = "xnys"
	DefaultAlertStore           = "postgres"
	DefaultAlertWorkers         = 4
	DefaultAlertQueueSize       = 1024
	DefaultEvalTimeout          = 5 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 1
	DefaultKafkaTopic           = "alert-triggered"
	DefaultKafkaBatchTimeout    = 50 * time.Millisecond
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *GatewayConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Provider defaults
	if c.Provider.WSURL == "" {
		c.Provider.WSURL = DefaultProviderWSURL
	}
	if c.Provider.RestURL == "" {
		c.Provider.RestURL = DefaultProviderRestURL
	}
	c.Provider.RestURL = strings.TrimRight(c.Provider.RestURL, "/")
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = DefaultProviderTimeout
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = DefaultMaxRetries
	}
	if c.Provider.RequestsPerSecond == 0 {
		c.Provider.RequestsPerSecond = DefaultRequestsPerSecond
	}

	// Upstream defaults
	if c.Upstream.ReconnectDelay == 0 {
		c.Upstream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Upstream.ReadTimeout == 0 {
		c.Upstream.ReadTimeout = DefaultUpstreamReadTimeout
	}
	if c.Upstream.PingInterval == 0 {
		c.Upstream.PingInterval = DefaultPingInterval
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultUpstreamWriteTimeout
	}
	if c.Upstream.BufferSize == 0 {
		c.Upstream.BufferSize = DefaultUpstreamBufferSize
	}

	// Auth defaults
	if c.Auth.JWKSURL == "" && c.Auth.IssuerURL != "" {
		c.Auth.JWKSURL = JWKSURLFromIssuer(c.Auth.IssuerURL)
	}
	if c.Auth.JWKSCacheTTL == 0 {
		c.Auth.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
	if c.Auth.JWKSRequestsPerMin == 0 {
		c.Auth.JWKSRequestsPerMin = DefaultJWKSRequestsPerMin
	}

	// Registry defaults
	if c.Registry.ReconcileInterval == 0 {
		c.Registry.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Registry.RefreshTimeout == 0 {
		c.Registry.RefreshTimeout = DefaultRefreshTimeout
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.SkipIfTickWithin == 0 {
		c.Poller.SkipIfTickWithin = DefaultSkipIfTickWithin
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.Calendar == "" {
		c.Poller.Calendar = DefaultCalendar
	}

	// Alerts defaults
	if c.Alerts.Store == "" {
		c.Alerts.Store = DefaultAlertStore
	}
	if c.Alerts.Workers == 0 {
		c.Alerts.Workers = DefaultAlertWorkers
	}
	if c.Alerts.QueueSize == 0 {
		c.Alerts.QueueSize = DefaultAlertQueueSize
	}
	if c.Alerts.EvalTimeout == 0 {
		c.Alerts.EvalTimeout = DefaultEvalTimeout
	}

	applyDBDefaults(&c.Database.Postgres)

	// Notification defaults
	if c.Notifications.Kafka.Topic == "" {
		c.Notifications.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Notifications.Kafka.BatchTimeout == 0 {
		c.Notifications.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// JWKSURLFromIssuer derives the well-known JWKS endpoint of an issuer.
func JWKSURLFromIssuer(issuer string) string {
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	return issuer + ".well-known/jwks.json"
}
