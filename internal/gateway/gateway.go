package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/price-alerts/internal/alerts"
	"github.com/rickgao/price-alerts/internal/api"
	"github.com/rickgao/price-alerts/internal/auth"
	"github.com/rickgao/price-alerts/internal/config"
	"github.com/rickgao/price-alerts/internal/connection"
	"github.com/rickgao/price-alerts/internal/database"
	"github.com/rickgao/price-alerts/internal/poller"
	"github.com/rickgao/price-alerts/internal/registry"
	"github.com/rickgao/price-alerts/internal/router"
	"github.com/rickgao/price-alerts/internal/server"
	"github.com/rickgao/price-alerts/internal/session"
	"github.com/rickgao/price-alerts/internal/version"
)

// stopTimeout bounds each component's Stop during shutdown.
const stopTimeout = 10 * time.Second

// Option customizes gateway assembly.
type Option func(*options)

type options struct {
	store    alerts.Store
	notifier alerts.Notifier
	fetcher  poller.QuoteFetcher
	addr     string
}

// WithStore replaces the configured alert store.
func WithStore(s alerts.Store) Option {
	return func(o *options) { o.store = s }
}

// WithNotifier replaces the configured notification sinks.
func WithNotifier(n alerts.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithQuoteFetcher replaces the provider REST client used by the poller.
func WithQuoteFetcher(f poller.QuoteFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithListenAddr overrides the listen address derived from server.port.
func WithListenAddr(addr string) Option {
	return func(o *options) { o.addr = addr }
}

// Gateway owns every long-running component.
type Gateway struct {
	cfg    *config.GatewayConfig
	logger *slog.Logger

	pool      *pgxpool.Pool
	store     alerts.Store
	notifier  alerts.Notifier
	evaluator *alerts.Evaluator
	link      *connection.Link
	registry  *registry.Registry
	router    *router.Router
	poller    *poller.Poller
	sessions  *session.Handler
	server    *server.Server
}

// New builds a gateway from cfg. It connects to the alert database when the
// postgres store is configured; nothing else touches the network until Run.
func New(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{cfg: cfg, logger: logger}

	var err error
	g.store, err = g.buildStore(ctx, o.store)
	if err != nil {
		return nil, err
	}

	g.notifier = o.notifier
	if g.notifier == nil {
		g.notifier = g.buildNotifier()
	}

	g.evaluator = alerts.NewEvaluator(alerts.EvaluatorConfig{
		Workers:   cfg.Alerts.Workers,
		QueueSize: cfg.Alerts.QueueSize,
		Timeout:   cfg.Alerts.EvalTimeout,
	}, g.store, g.notifier, logger)

	g.link = connection.NewLink(connection.LinkConfig{
		URL:            cfg.Provider.WSURL,
		APIKey:         cfg.Provider.APIKey,
		ReconnectDelay: cfg.Upstream.ReconnectDelay,
		PingInterval:   cfg.Upstream.PingInterval,
		ReadTimeout:    cfg.Upstream.ReadTimeout,
		WriteTimeout:   cfg.Upstream.WriteTimeout,
		BufferSize:     cfg.Upstream.BufferSize,
	}, logger)

	g.registry = registry.New(registry.Config{
		ReconcileInterval: cfg.Registry.ReconcileInterval,
		RefreshTimeout:    cfg.Registry.RefreshTimeout,
	}, g.link, g.store, logger)
	g.evaluator.SetRefresher(g.registry)

	g.router = router.New(g.registry, g.evaluator, router.NewFreshness(), logger)

	g.link.SetDesiredSource(g.registry)
	g.link.OnTick(g.router)

	g.poller, err = g.buildPoller(o.fetcher)
	if err != nil {
		g.closeResources()
		return nil, err
	}

	verifier, err := g.buildVerifier()
	if err != nil {
		g.closeResources()
		return nil, err
	}
	g.sessions = session.NewHandler(verifier, g.registry, g.router, logger)

	addr := o.addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	deps := server.Deps{
		Sessions:  g.sessions,
		Registry:  g.registry,
		Upstream:  g.link,
		Router:    g.router,
		Poller:    g.poller,
		Evaluator: g.evaluator,
		Version:   version.Info(),
	}
	if pinger, ok := g.store.(server.Pinger); ok {
		deps.Database = pinger
	}
	if !cfg.Auth.Disabled {
		deps.Internal = verifier
	}
	g.server = server.New(server.Config{
		Addr:            addr,
		ReadLimit:       cfg.Server.ReadLimit,
		SendBuffer:      cfg.Server.SendBuffer,
		WriteTimeout:    cfg.Server.WriteTimeout,
		PongTimeout:     cfg.Server.PongTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Debug:           cfg.Logging.Level == "debug",
	}, deps, logger)

	return g, nil
}

// Run starts every component and blocks until ctx is canceled or the HTTP
// server fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	// Background components outlive ctx so they can be stopped in order.
	runCtx := context.WithoutCancel(ctx)

	if err := g.evaluator.Start(runCtx); err != nil {
		return fmt.Errorf("start evaluator: %w", err)
	}
	if err := g.registry.Start(runCtx); err != nil {
		g.shutdown()
		return fmt.Errorf("start registry: %w", err)
	}
	if err := g.link.Start(runCtx); err != nil {
		g.shutdown()
		return fmt.Errorf("start upstream link: %w", err)
	}
	if err := g.poller.Start(runCtx); err != nil {
		g.shutdown()
		return fmt.Errorf("start poller: %w", err)
	}

	g.logger.Info("gateway running",
		"instance_id", g.cfg.Instance.ID,
		"alert_store", g.cfg.Alerts.Store,
		"upstream_symbols", len(g.registry.DesiredUpstreamSet()),
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return g.server.Run(gctx)
	})
	grp.Go(func() error {
		<-gctx.Done()
		g.shutdown()
		return nil
	})
	return grp.Wait()
}

// Server exposes the HTTP server, mainly for its bound address.
func (g *Gateway) Server() *server.Server {
	return g.server
}

// Router exposes the fan-out router.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Registry exposes the subscription registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

func (g *Gateway) shutdown() {
	g.logger.Info("stopping gateway components")

	stop := func(name string, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			g.logger.Warn("component stop incomplete", "component", name, "err", err)
		}
	}

	// Producers first so the evaluator can drain what they queued.
	stop("poller", g.poller.Stop)
	stop("upstream", g.link.Stop)
	stop("registry", g.registry.Stop)
	stop("evaluator", g.evaluator.Stop)

	g.closeResources()
}

func (g *Gateway) closeResources() {
	if g.notifier != nil {
		if err := g.notifier.Close(); err != nil {
			g.logger.Warn("notifier close failed", "err", err)
		}
	}
	if g.pool != nil {
		g.pool.Close()
	}
}

func (g *Gateway) buildStore(ctx context.Context, override alerts.Store) (alerts.Store, error) {
	if override != nil {
		return override, nil
	}

	if g.cfg.Alerts.Store == "memory" {
		g.logger.Warn("using in-memory alert store; alerts are not persisted")
		return alerts.NewMemoryStore(), nil
	}

	dbCfg := g.cfg.Database.Postgres
	g.logger.Info("connecting to alert database", "dsn", database.Redact(database.BuildConnString(dbCfg)))
	pool, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect alert database: %w", err)
	}
	g.pool = pool
	return alerts.NewPostgresStore(pool), nil
}

func (g *Gateway) buildNotifier() alerts.Notifier {
	sinks := alerts.MultiNotifier{alerts.NewLogNotifier(g.logger)}
	if k := g.cfg.Notifications.Kafka; k.Enabled {
		g.logger.Info("publishing alert notifications to kafka", "brokers", k.Brokers, "topic", k.Topic)
		sinks = append(sinks, alerts.NewKafkaNotifier(alerts.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			BatchTimeout: k.BatchTimeout,
		}))
	}
	return sinks
}

func (g *Gateway) buildPoller(fetcher poller.QuoteFetcher) (*poller.Poller, error) {
	pc := g.cfg.Poller

	if fetcher == nil {
		fetcher = api.NewClient(
			g.cfg.Provider.RestURL,
			g.cfg.Provider.APIKey,
			api.WithLogger(g.logger),
			api.WithTimeout(g.cfg.Provider.Timeout),
			api.WithRetries(g.cfg.Provider.MaxRetries, 500*time.Millisecond),
			api.WithRateLimit(g.cfg.Provider.RequestsPerSecond, 1),
		)
	}

	var popts []poller.Option
	if pc.MarketHoursOnly {
		hours, err := poller.NewExchangeHours(pc.Calendar)
		if err != nil {
			return nil, fmt.Errorf("market calendar: %w", err)
		}
		popts = append(popts, poller.WithMarketHours(hours))
	}

	return poller.New(poller.Config{
		Enabled:           pc.IsEnabled(),
		Interval:          pc.Interval,
		SkipIfTickEnabled: pc.SkipIfTick(),
		SkipIfTickWithin:  pc.SkipIfTickWithin,
		Concurrency:       pc.Concurrency,
		Timeout:           pc.Timeout,
		MarketHoursOnly:   pc.MarketHoursOnly,
	}, g.registry, fetcher, g.router.Freshness(), g.router, g.logger, popts...), nil
}

func (g *Gateway) buildVerifier() (*auth.Verifier, error) {
	ac := g.cfg.Auth
	authCfg := auth.Config{
		Disabled: ac.Disabled,
		Issuer:   ac.IssuerURL,
		Audience: ac.Audience,
		Leeway:   ac.Leeway,
	}
	if ac.Disabled {
		return auth.NewVerifier(authCfg, nil, g.logger)
	}

	var keys auth.KeySource
	switch {
	case ac.PublicKeyPath != "":
		key, err := auth.LoadPublicKey(ac.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load auth public key: %w", err)
		}
		keys = auth.StaticKey{PublicKey: key}
	case ac.JWKSURL != "":
		keys = auth.NewJWKS(auth.JWKSConfig{
			URL:              ac.JWKSURL,
			CacheTTL:         ac.JWKSCacheTTL,
			RefetchPerMinute: ac.JWKSRequestsPerMin,
		}, g.logger)
	default:
		return nil, errors.New("auth enabled but no key source configured")
	}
	return auth.NewVerifier(authCfg, keys, g.logger)
}
