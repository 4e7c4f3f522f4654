package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variable names recognized as overrides.
const (
	EnvProviderAPIKey   = "FINNHUB_API_KEY"
	EnvProviderWSURL    = "FINNHUB_WS_URL"
	EnvProviderRestURL  = "FINNHUB_BASE_URL"
	EnvFallbackEnabled  = "QUOTE_FALLBACK_ENABLED"
	EnvFallbackMS       = "QUOTE_FALLBACK_MS"
	EnvSkipIfTick       = "QUOTE_SKIP_IF_TICK_ENABLED"
	EnvSkipIfTickWithin = "QUOTE_SKIP_IF_TICK_WITHIN_MS"
	EnvAuthIssuer       = "AUTH0_ISSUER_URL"
	EnvAuthAudience     = "AUTH0_AUDIENCE"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvPort             = "PORT"
	EnvLogLevel         = "LOG_LEVEL"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overlays non-empty environment variables onto the config.
func (c *GatewayConfig) applyEnv(lookup lookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvProviderAPIKey); ok {
		c.Provider.APIKey = v
	}
	if v, ok := get(EnvProviderWSURL); ok {
		c.Provider.WSURL = v
	}
	if v, ok := get(EnvProviderRestURL); ok {
		c.Provider.RestURL = v
	}

	// Only the literal "false" disables, anything else enables.
	if v, ok := get(EnvFallbackEnabled); ok {
		enabled := v != "false"
		c.Poller.Enabled = &enabled
	}
	if v, ok := get(EnvSkipIfTick); ok {
		enabled := v != "false"
		c.Poller.SkipIfTickEnabled = &enabled
	}
	if v, ok := get(EnvFallbackMS); ok {
		d, err := parseMillis(EnvFallbackMS, v)
		if err != nil {
			return err
		}
		c.Poller.Interval = d
	}
	if v, ok := get(EnvSkipIfTickWithin); ok {
		d, err := parseMillis(EnvSkipIfTickWithin, v)
		if err != nil {
			return err
		}
		c.Poller.SkipIfTickWithin = d
	}

	if v, ok := get(EnvAuthIssuer); ok {
		c.Auth.IssuerURL = v
	}
	if v, ok := get(EnvAuthAudience); ok {
		c.Auth.Audience = v
	}

	if v, ok := get(EnvDatabaseURL); ok {
		c.Database.Postgres.URL = v
	}

	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Server.Port = port
	}

	if v, ok := get(EnvLogLevel); ok {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}

func parseMillis(key, v string) (time.Duration, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%s: invalid milliseconds %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
