package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Client-facing messages for rejected WebSocket upgrades.
const (
	MsgMissingToken = "Missing WS token"
	MsgInvalidToken = "Invalid WS token"
)

// AnonymousSubject is the identity returned when verification is disabled.
const AnonymousSubject = "anonymous"

// Identity is the authenticated principal of a connection.
type Identity struct {
	Subject string
}

// Config configures a Verifier.
type Config struct {
	Disabled bool
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates RS256 bearer tokens.
type Verifier struct {
	cfg    Config
	keys   KeySource
	parser *jwt.Parser
}

// NewVerifier creates a Verifier. keys may be nil only when cfg.Disabled.
func NewVerifier(cfg Config, keys KeySource, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Disabled {
		logger.Warn("token verification disabled, all clients are anonymous")
		return &Verifier{cfg: cfg}, nil
	}
	if keys == nil {
		return nil, fmt.Errorf("auth: key source is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		cfg:    cfg,
		keys:   keys,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify authenticates a WebSocket upgrade from its request URL, which may
// be absolute or a request URI.
func (v *Verifier) Verify(ctx context.Context, rawURL string) (Identity, error) {
	if v.cfg.Disabled {
		return Identity{Subject: AnonymousSubject}, nil
	}
	return v.VerifyToken(ctx, tokenFromURL(rawURL))
}

// VerifyBearer authenticates an Authorization header value.
func (v *Verifier) VerifyBearer(ctx context.Context, header string) (Identity, error) {
	if v.cfg.Disabled {
		return Identity{Subject: AnonymousSubject}, nil
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		token = ""
	}
	return v.VerifyToken(ctx, strings.TrimSpace(token))
}

// VerifyToken validates a raw JWT.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (Identity, error) {
	if v.cfg.Disabled {
		return Identity{Subject: AnonymousSubject}, nil
	}
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return Identity{Subject: claims.Subject}, nil
}

// Message maps a verification error to the text sent to the client.
func Message(err error) string {
	if errors.Is(err, ErrMissingToken) {
		return MsgMissingToken
	}
	return MsgInvalidToken
}

func tokenFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}
