package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/price-alerts/internal/model"
)

// SymbolSource provides the symbols to poll.
type SymbolSource interface {
	DesiredUpstreamSet() []model.Symbol
}

// QuoteFetcher fetches REST quotes.
type QuoteFetcher interface {
	GetQuote(ctx context.Context, sym model.Symbol) (model.Quote, error)
}

// Freshness reports when a symbol last ticked.
type Freshness interface {
	LastSeen(sym model.Symbol) (time.Time, bool)
}

// QuoteHandler receives valid quotes.
type QuoteHandler interface {
	HandleQuote(q model.Quote)
}

// QuoteHandlerFunc is a function adapter for QuoteHandler.
type QuoteHandlerFunc func(model.Quote)

func (f QuoteHandlerFunc) HandleQuote(q model.Quote) {
	f(q)
}

// Config holds poller configuration.
type Config struct {
	Enabled           bool
	Interval          time.Duration // Poll interval (default: 10s)
	SkipIfTickEnabled bool          // Skip symbols with recent ticks
	SkipIfTickWithin  time.Duration // Tick recency window (default: 15s)
	Concurrency       int           // Max concurrent requests (default: 4)
	Timeout           time.Duration // Per-request timeout (default: 5s)
	MarketHoursOnly   bool          // Poll only while Hours reports open
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Interval:          10 * time.Second,
		SkipIfTickEnabled: true,
		SkipIfTickWithin:  15 * time.Second,
		Concurrency:       4,
		Timeout:           5 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Passes       int64 `json:"passes"`
	ClosedSkips  int64 `json:"closed_skips"`
	FreshSkipped int64 `json:"fresh_skipped"`
	Fetched      int64 `json:"fetched"`
	Invalid      int64 `json:"invalid"`
	Errors       int64 `json:"errors"`
}

// Poller periodically fetches quotes for symbols without live ticks.
type Poller struct {
	cfg     Config
	source  SymbolSource
	fetcher QuoteFetcher
	fresh   Freshness
	handler QuoteHandler
	hours   MarketHours
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	passes       atomic.Int64
	closedSkips  atomic.Int64
	freshSkipped atomic.Int64
	fetched      atomic.Int64
	invalid      atomic.Int64
	errors       atomic.Int64
}

// Option configures a Poller.
type Option func(*Poller)

// WithMarketHours sets the trading-session gate used when MarketHoursOnly is set.
func WithMarketHours(h MarketHours) Option {
	return func(p *Poller) {
		p.hours = h
	}
}

// New creates a new Poller. fresh may be nil, in which case no symbol is
// ever considered fresh.
func New(cfg Config, source SymbolSource, fetcher QuoteFetcher, fresh Freshness, handler QuoteHandler, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.SkipIfTickWithin <= 0 {
		cfg.SkipIfTickWithin = defaults.SkipIfTickWithin
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	p := &Poller{
		cfg:     cfg,
		source:  source,
		fetcher: fetcher,
		fresh:   fresh,
		handler: handler,
		logger:  logger.With("component", "poller"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop. The first pass runs one interval after Start.
func (p *Poller) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.logger.Info("quote poller disabled")
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("quote poller started",
		"interval", p.cfg.Interval,
		"skip_if_tick", p.cfg.SkipIfTickEnabled,
		"skip_window", p.cfg.SkipIfTickWithin,
		"concurrency", p.cfg.Concurrency,
		"market_hours_only", p.cfg.MarketHoursOnly,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("quote poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Passes:       p.passes.Load(),
		ClosedSkips:  p.closedSkips.Load(),
		FreshSkipped: p.freshSkipped.Load(),
		Fetched:      p.fetched.Load(),
		Invalid:      p.invalid.Load(),
		Errors:       p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(p.ctx)
		}
	}
}

// pollAll runs one pass over the desired upstream set.
func (p *Poller) pollAll(ctx context.Context) {
	start := p.now()

	if p.cfg.MarketHoursOnly && p.hours != nil && !p.hours.IsOpen(start) {
		p.closedSkips.Add(1)
		p.logger.Debug("market closed, skipping poll")
		return
	}
	p.passes.Add(1)

	symbols := p.due(p.source.DesiredUpstreamSet(), start)
	if len(symbols) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	var requested, failed atomic.Int64

	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.pollSymbol(ctx, sym); err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("quote poll failed", "symbol", sym, "err", err)
					failed.Add(1)
				}
				return nil
			}
			requested.Add(1)
			return nil
		})
	}
	g.Wait()

	p.errors.Add(failed.Load())
	p.logger.Debug("poll pass complete",
		"symbols", len(symbols),
		"requested", requested.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// due filters out symbols that ticked within the recency window.
func (p *Poller) due(symbols []model.Symbol, now time.Time) []model.Symbol {
	if !p.cfg.SkipIfTickEnabled || p.fresh == nil {
		return symbols
	}

	out := symbols[:0:0]
	for _, sym := range symbols {
		if last, ok := p.fresh.LastSeen(sym); ok && now.Sub(last) <= p.cfg.SkipIfTickWithin {
			p.freshSkipped.Add(1)
			continue
		}
		out = append(out, sym)
	}
	return out
}

// pollSymbol fetches and hands off a single symbol's quote.
func (p *Poller) pollSymbol(ctx context.Context, sym model.Symbol) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	q, err := p.fetcher.GetQuote(ctx, sym)
	if err != nil {
		return err
	}
	if !model.ValidPrice(q.Current) {
		p.invalid.Add(1)
		p.logger.Debug("skipping quote without usable price", "symbol", sym, "price", q.Current)
		return nil
	}

	p.fetched.Add(1)
	if p.handler != nil {
		p.handler.HandleQuote(q)
	}
	return nil
}
