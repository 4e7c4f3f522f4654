package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// JWKS errors.
var (
	ErrUnknownKey     = errors.New("signing key not found")
	ErrRefetchLimited = errors.New("jwks refetch rate limited")
)

// JWKSConfig configures a JWKS key source.
type JWKSConfig struct {
	URL              string
	CacheTTL         time.Duration // Keys older than this are refetched (default: 10m)
	RefetchPerMinute int           // Max fetches per minute (default: 5)
	HTTPClient       *http.Client
}

// JWKS is a KeySource backed by a remote JSON Web Key Set. Keys are cached
// and the set is refetched when it goes stale or an unknown kid shows up,
// subject to a per-minute fetch budget.
type JWKS struct {
	url     string
	ttl     time.Duration
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWKS creates a JWKS key source. Nothing is fetched until the first Key call.
func NewJWKS(cfg JWKSConfig, logger *slog.Logger) *JWKS {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.RefetchPerMinute < 1 {
		cfg.RefetchPerMinute = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &JWKS{
		url:     cfg.URL,
		ttl:     cfg.CacheTTL,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RefetchPerMinute)), cfg.RefetchPerMinute),
		logger:  logger.With("component", "jwks"),
		now:     time.Now,
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// Key implements KeySource. A stale but known key is still served when a
// refetch is not possible.
func (j *JWKS) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.RLock()
	key, ok := j.keys[kid]
	fresh := !j.fetchedAt.IsZero() && j.now().Sub(j.fetchedAt) < j.ttl
	j.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	_, err, _ := j.group.Do("jwks", func() (any, error) {
		if !j.limiter.Allow() {
			return nil, ErrRefetchLimited
		}
		return nil, j.refresh(ctx)
	})
	if err != nil {
		if ok {
			j.logger.Warn("serving cached signing key", "kid", kid, "err", err)
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	key, ok = j.keys[kid]
	j.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	return key, nil
}

// jwk is one entry of a key set. Only RSA signing keys are used.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

func (j *JWKS) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			j.logger.Warn("skipping malformed jwk", "kid", k.Kid, "err", err)
			continue
		}
		keys[k.Kid] = pub
	}

	j.mu.Lock()
	j.keys = keys
	j.fetchedAt = j.now()
	j.mu.Unlock()

	j.logger.Debug("jwks refreshed", "keys", len(keys))
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 || len(e) > 4 {
		return nil, fmt.Errorf("invalid key parameters")
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 | int(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}
