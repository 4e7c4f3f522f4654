package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/price-alerts/internal/api"
	"github.com/rickgao/price-alerts/internal/model"
)

type staticSource []model.Symbol

func (s staticSource) DesiredUpstreamSet() []model.Symbol { return s }

type mapFreshness map[model.Symbol]time.Time

func (m mapFreshness) LastSeen(sym model.Symbol) (time.Time, bool) {
	t, ok := m[sym]
	return t, ok
}

type fetcherFunc func(ctx context.Context, sym model.Symbol) (model.Quote, error)

func (f fetcherFunc) GetQuote(ctx context.Context, sym model.Symbol) (model.Quote, error) {
	return f(ctx, sym)
}

type collector struct {
	mu     sync.Mutex
	quotes []model.Quote
}

func (c *collector) HandleQuote(q model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = append(c.quotes, q)
}

func (c *collector) symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.quotes))
	for i, q := range c.quotes {
		out[i] = string(q.Symbol)
	}
	sort.Strings(out)
	return out
}

func priceFetcher(prices map[model.Symbol]float64) fetcherFunc {
	return func(ctx context.Context, sym model.Symbol) (model.Quote, error) {
		p, ok := prices[sym]
		if !ok {
			return model.Quote{}, errors.New("no such symbol")
		}
		return model.Quote{Symbol: sym, Current: p, FetchedAt: time.Now()}, nil
	}
}

func TestPollAll_SkipsFreshSymbols(t *testing.T) {
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	fresh := mapFreshness{
		"AAPL": now.Add(-5 * time.Second),  // inside window
		"MSFT": now.Add(-30 * time.Second), // stale
	}
	out := &collector{}

	cfg := DefaultConfig()
	p := New(cfg, staticSource{"AAPL", "MSFT", "TSLA"},
		priceFetcher(map[model.Symbol]float64{"AAPL": 1, "MSFT": 2, "TSLA": 3}),
		fresh, out, nil)
	p.now = func() time.Time { return now }

	p.pollAll(context.Background())

	assert.Equal(t, []string{"MSFT", "TSLA"}, out.symbols())
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Passes)
	assert.Equal(t, int64(1), stats.FreshSkipped)
	assert.Equal(t, int64(2), stats.Fetched)
}

func TestPollAll_SkipDisabledPollsEverything(t *testing.T) {
	now := time.Now()
	out := &collector{}

	cfg := DefaultConfig()
	cfg.SkipIfTickEnabled = false
	p := New(cfg, staticSource{"AAPL", "MSFT"},
		priceFetcher(map[model.Symbol]float64{"AAPL": 1, "MSFT": 2}),
		mapFreshness{"AAPL": now}, out, nil)

	p.pollAll(context.Background())

	assert.Equal(t, []string{"AAPL", "MSFT"}, out.symbols())
	assert.Zero(t, p.Stats().FreshSkipped)
}

func TestPollAll_DropsUnusablePrices(t *testing.T) {
	out := &collector{}
	p := New(DefaultConfig(), staticSource{"ZERO", "NAN", "INF", "NEG", "OK"},
		priceFetcher(map[model.Symbol]float64{
			"ZERO": 0,
			"NAN":  math.NaN(),
			"INF":  math.Inf(1),
			"NEG":  -4,
			"OK":   12.5,
		}), nil, out, nil)

	p.pollAll(context.Background())

	assert.Equal(t, []string{"OK"}, out.symbols())
	assert.Equal(t, int64(4), p.Stats().Invalid)
	assert.Equal(t, int64(1), p.Stats().Fetched)
}

func TestPollAll_ErrorsAreIsolated(t *testing.T) {
	out := &collector{}
	p := New(DefaultConfig(), staticSource{"AAPL", "GONE", "MSFT"},
		priceFetcher(map[model.Symbol]float64{"AAPL": 1, "MSFT": 2}),
		nil, out, nil)

	p.pollAll(context.Background())

	assert.Equal(t, []string{"AAPL", "MSFT"}, out.symbols())
	assert.Equal(t, int64(1), p.Stats().Errors)
}

func TestPollAll_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	fetch := fetcherFunc(func(ctx context.Context, sym model.Symbol) (model.Quote, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return model.Quote{Symbol: sym, Current: 1}, nil
	})

	syms := make(staticSource, 20)
	for i := range syms {
		syms[i] = model.Symbol(fmt.Sprintf("S%02d", i))
	}

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	p := New(cfg, syms, fetch, nil, &collector{}, nil)

	p.pollAll(context.Background())

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int64(20), p.Stats().Fetched)
}

func TestPollAll_PerRequestTimeout(t *testing.T) {
	fetch := fetcherFunc(func(ctx context.Context, sym model.Symbol) (model.Quote, error) {
		<-ctx.Done()
		return model.Quote{}, ctx.Err()
	})

	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	p := New(cfg, staticSource{"AAPL"}, fetch, nil, &collector{}, nil)

	p.pollAll(context.Background())

	assert.Equal(t, int64(1), p.Stats().Errors)
}

func TestPollAll_MarketClosed(t *testing.T) {
	var calls atomic.Int32
	fetch := fetcherFunc(func(ctx context.Context, sym model.Symbol) (model.Quote, error) {
		calls.Add(1)
		return model.Quote{Symbol: sym, Current: 1}, nil
	})

	cfg := DefaultConfig()
	cfg.MarketHoursOnly = true
	open := false
	p := New(cfg, staticSource{"AAPL"}, fetch, nil, &collector{}, nil,
		WithMarketHours(MarketHoursFunc(func(time.Time) bool { return open })))

	p.pollAll(context.Background())
	assert.Zero(t, calls.Load())
	assert.Equal(t, int64(1), p.Stats().ClosedSkips)

	open = true
	p.pollAll(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestExchangeHours_NYSE(t *testing.T) {
	h, err := NewExchangeHours("XNYS")
	require.NoError(t, err)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Wednesday 2026-01-07 11:00 New York is a regular session.
	assert.True(t, h.IsOpen(time.Date(2026, 1, 7, 11, 0, 0, 0, ny)))
	// Saturday.
	assert.False(t, h.IsOpen(time.Date(2026, 1, 10, 11, 0, 0, 0, ny)))
	// Before the open.
	assert.False(t, h.IsOpen(time.Date(2026, 1, 7, 7, 0, 0, 0, ny)))
}

func TestPoller_StartStop(t *testing.T) {
	out := &collector{}
	cfg := DefaultConfig()
	cfg.Interval = 20 * time.Millisecond
	p := New(cfg, staticSource{"AAPL"},
		priceFetcher(map[model.Symbol]float64{"AAPL": 5}), nil, out, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.Empty(t, out.symbols(), "first pass waits one interval")

	require.Eventually(t, func() bool {
		return p.Stats().Passes >= 2
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestPoller_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Interval = 5 * time.Millisecond
	p := New(cfg, staticSource{"AAPL"}, priceFetcher(nil), nil, &collector{}, nil)

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, p.Stats().Passes)
	require.NoError(t, p.Stop(context.Background()))
}

// TestPoller_WithRESTClient exercises the poller against the real REST client.
func TestPoller_WithRESTClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Write([]byte(`{"c":190.1,"pc":188.0,"t":1767632400}`))
		default:
			w.Write([]byte(`{"c":0,"d":null,"dp":null,"pc":0,"t":0}`))
		}
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "k", api.WithTimeout(5*time.Second))
	out := &collector{}
	p := New(DefaultConfig(), staticSource{"AAPL", "UNKNOWN"}, client, nil, out, nil)

	p.pollAll(context.Background())

	assert.Equal(t, []string{"AAPL"}, out.symbols())
	assert.Equal(t, int64(1), p.Stats().Invalid)
}
