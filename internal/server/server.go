package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rickgao/price-alerts/internal/alerts"
	"github.com/rickgao/price-alerts/internal/auth"
	"github.com/rickgao/price-alerts/internal/connection"
	"github.com/rickgao/price-alerts/internal/poller"
	"github.com/rickgao/price-alerts/internal/registry"
	"github.com/rickgao/price-alerts/internal/router"
	"github.com/rickgao/price-alerts/internal/session"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr            string        // Listen address (default: ":3000")
	ReadLimit       int64         // Max client frame size (default: 4096)
	SendBuffer      int           // Per-client outbound queue (default: 256)
	WriteTimeout    time.Duration // Per-frame write deadline (default: 10s)
	PongTimeout     time.Duration // Max silence before a client is dropped (default: 60s)
	ShutdownTimeout time.Duration // Graceful shutdown budget (default: 15s)
	AllowedOrigins  []string      // Browser origins allowed to connect; empty allows any
	Debug           bool          // gin debug mode
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":3000",
		ReadLimit:       4096,
		SendBuffer:      256,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Sessions runs client connections.
type Sessions interface {
	Serve(ctx context.Context, t session.Transport) error
	Stats() session.Stats
}

// Registry is the subscription state exposed over HTTP.
type Registry interface {
	Snapshot() registry.Snapshot
	RequestRefresh()
}

// Upstream reports the streaming link status.
type Upstream interface {
	State() connection.State
	Stats() connection.LinkStats
}

// BearerVerifier authenticates internal HTTP calls.
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, header string) (auth.Identity, error)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server reports on and drives. Sessions and
// Registry are required.
type Deps struct {
	Sessions  Sessions
	Registry  Registry
	Upstream  Upstream
	Router    interface{ Stats() router.Stats }
	Poller    interface{ Stats() poller.Stats }
	Evaluator interface{ Stats() alerts.EvaluatorStats }
	Database  Pinger
	Internal  BearerVerifier // nil leaves internal routes open
	Version   map[string]string
}

// Server is the gateway's HTTP front end.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	// connCtx outlives individual requests and is canceled on shutdown.
	connCtx    context.Context
	connCancel context.CancelFunc
	conns      sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
		engine: gin.New(),
	}
	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine.Use(gin.Recovery(), s.requestLogger(), s.cors())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/debug/subscriptions", s.handleSubscriptions)

	internal := s.engine.Group("/internal", s.requireBearer())
	internal.POST("/alerts/refresh", s.handleRefresh)
}

// Run serves until ctx is canceled, then shuts down gracefully. Open client
// connections are told to go away and given ShutdownTimeout to finish.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.connCancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	s.connCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "err", err)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("client connections still open after shutdown timeout")
	}
	return nil
}

// Addr returns the bound listen address once Run has started listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "err", err, "remote", c.ClientIP())
		return
	}

	t := newTransport(conn, c.Request.URL.RequestURI(), transportConfig{
		SendBuffer:   s.cfg.SendBuffer,
		ReadLimit:    s.cfg.ReadLimit,
		WriteTimeout: s.cfg.WriteTimeout,
		PongTimeout:  s.cfg.PongTimeout,
	}, s.logger)

	s.conns.Add(1)
	defer s.conns.Done()

	if err := s.deps.Sessions.Serve(s.connCtx, t); err != nil {
		s.logger.Debug("session ended with error", "err", err, "remote", c.ClientIP())
	}

	select {
	case <-t.Done():
	case <-time.After(s.cfg.WriteTimeout):
		conn.Close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return s.originAllowed(origin)
}

func (s *Server) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Scheme+"://"+u.Host {
			return true
		}
	}
	return false
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (len(s.cfg.AllowedOrigins) == 0 || s.originAllowed(origin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/ws" {
			return
		}
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Internal == nil {
			c.Next()
			return
		}
		if _, err := s.deps.Internal.VerifyBearer(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
