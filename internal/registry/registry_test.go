package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/price-alerts/internal/model"
)

// mockUpstream records subscription flips and tracks the net set.
type mockUpstream struct {
	mu    sync.Mutex
	calls []string
	set   map[model.Symbol]bool
}

func newMockUpstream() *mockUpstream {
	return &mockUpstream{set: make(map[model.Symbol]bool)}
}

func (m *mockUpstream) EnsureSubscribed(sym model.Symbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "+"+string(sym))
	m.set[sym] = true
}

func (m *mockUpstream) EnsureUnsubscribed(sym model.Symbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "-"+string(sym))
	delete(m.set, sym)
}

func (m *mockUpstream) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockUpstream) Set() []model.Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Symbol, 0, len(m.set))
	for s := range m.set {
		out = append(out, s)
	}
	return model.SortSymbols(out)
}

// mockAlerts returns a configurable symbol list or error.
type mockAlerts struct {
	mu      sync.Mutex
	symbols []model.Symbol
	err     error
	calls   atomic.Int32
}

func (m *mockAlerts) UniqueActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Symbol(nil), m.symbols...), m.err
}

func (m *mockAlerts) set(err error, symbols ...model.Symbol) {
	m.mu.Lock()
	m.symbols = symbols
	m.err = err
	m.mu.Unlock()
}

func newTestRegistry(up Upstream, alerts AlertSource) *Registry {
	return New(Config{ReconcileInterval: time.Hour, RefreshTimeout: time.Second}, up, alerts, nil)
}

func TestRegistry_AddRemoveFlipsOnlyOnTransitions(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)

	require.True(t, r.Register("c1"))
	require.False(t, r.Register("c1"))

	assert.True(t, r.AddClientInterest("c1", "AAPL"))
	assert.False(t, r.AddClientInterest("c1", "AAPL"), "re-subscribe is a no-op")
	assert.True(t, r.RemoveClientInterest("c1", "AAPL"))
	assert.False(t, r.RemoveClientInterest("c1", "AAPL"), "unsubscribe of absent symbol is a no-op")

	assert.Equal(t, []string{"+AAPL", "-AAPL"}, up.Calls())
	assert.Empty(t, r.DesiredUpstreamSet())
}

func TestRegistry_UnknownClientIgnored(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)

	assert.False(t, r.AddClientInterest("ghost", "AAPL"))
	assert.False(t, r.RemoveClientInterest("ghost", "AAPL"))
	assert.Empty(t, r.RemoveAllInterest("ghost"))
	assert.Empty(t, up.Calls())
}

func TestRegistry_EmptySymbolIgnored(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	r.Register("c1")

	assert.False(t, r.AddClientInterest("c1", ""))
	assert.Empty(t, up.Calls())
}

func TestRegistry_SharedSymbolStaysWhileAnyClientRemains(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	r.Register("c1")
	r.Register("c2")

	r.AddClientInterest("c1", "MSFT")
	r.AddClientInterest("c2", "MSFT")
	r.RemoveClientInterest("c1", "MSFT")

	assert.Equal(t, []string{"+MSFT"}, up.Calls())
	assert.Equal(t, []model.Symbol{"MSFT"}, r.DesiredUpstreamSet())
	assert.ElementsMatch(t, []ClientID{"c2"}, r.Interested("MSFT"))

	r.RemoveClientInterest("c2", "MSFT")
	assert.Equal(t, []string{"+MSFT", "-MSFT"}, up.Calls())
	assert.Empty(t, r.Interested("MSFT"))
}

func TestRegistry_AlertKeepsSymbolWithoutClients(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	r.Register("c1")

	r.SetAlertSymbols([]model.Symbol{"TSLA"})
	r.AddClientInterest("c1", "TSLA")
	r.RemoveClientInterest("c1", "TSLA")
	r.RemoveAllInterest("c1")

	assert.Equal(t, []string{"+TSLA"}, up.Calls())
	assert.Equal(t, []model.Symbol{"TSLA"}, r.DesiredUpstreamSet())

	// Alert goes away and nobody is interested: unsubscribe.
	r.SetAlertSymbols(nil)
	assert.Equal(t, []string{"+TSLA", "-TSLA"}, up.Calls())
}

func TestRegistry_SetAlertSymbolsWithClientInterest(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	r.Register("c1")
	r.AddClientInterest("c1", "AAPL")

	r.SetAlertSymbols([]model.Symbol{"AAPL", "NVDA", ""})
	r.SetAlertSymbols([]model.Symbol{"NVDA"})

	assert.Equal(t, []string{"+AAPL", "+NVDA"}, up.Calls())
	assert.Equal(t, []model.Symbol{"AAPL", "NVDA"}, r.DesiredUpstreamSet())
	assert.Equal(t, []model.Symbol{"NVDA"}, r.Snapshot().AlertSymbols)
}

func TestRegistry_RemoveAllInterest(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	r.Register("c1")
	r.Register("c2")
	r.AddClientInterest("c1", "AAPL")
	r.AddClientInterest("c1", "MSFT")
	r.AddClientInterest("c2", "MSFT")

	released := r.RemoveAllInterest("c1")

	assert.Equal(t, []model.Symbol{"AAPL", "MSFT"}, released)
	assert.Empty(t, r.ClientInterests("c1"))
	assert.Equal(t, []model.Symbol{"MSFT"}, r.DesiredUpstreamSet())
	assert.Equal(t, []model.Symbol{"MSFT"}, up.Set())

	// The client is gone: later calls must not resurrect it.
	assert.False(t, r.AddClientInterest("c1", "AAPL"))
	assert.Equal(t, 1, r.Snapshot().Clients)
}

func TestRegistry_ClientInterestsNetEffect(t *testing.T) {
	r := newTestRegistry(newMockUpstream(), nil)
	r.Register("c1")

	ops := []struct {
		sub bool
		sym model.Symbol
	}{
		{true, "AAPL"}, {true, "MSFT"}, {false, "AAPL"}, {true, "GOOG"},
		{true, "AAPL"}, {false, "TSLA"}, {false, "MSFT"}, {true, "GOOG"},
	}
	for _, op := range ops {
		if op.sub {
			r.AddClientInterest("c1", op.sym)
		} else {
			r.RemoveClientInterest("c1", op.sym)
		}
	}

	assert.Equal(t, []model.Symbol{"AAPL", "GOOG"}, r.ClientInterests("c1"))

	r.RemoveAllInterest("c1")
	assert.Empty(t, r.ClientInterests("c1"))
}

func TestRegistry_ReconcileHealsDrift(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	r.Register("c1")
	r.AddClientInterest("c1", "AAPL")

	// Corrupt derived state: a stray upstream symbol and a lost index entry.
	r.state.mu.Lock()
	r.state.upstream["STALE"] = struct{}{}
	delete(r.state.interested, "AAPL")
	delete(r.state.upstream, "AAPL")
	r.state.mu.Unlock()

	added, removed := r.Reconcile()

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []model.Symbol{"AAPL"}, r.DesiredUpstreamSet())
	assert.ElementsMatch(t, []ClientID{"c1"}, r.Interested("AAPL"))
	assert.Equal(t, []string{"+AAPL", "+AAPL", "-STALE"}, up.Calls())

	// Already consistent: nothing to do.
	added, removed = r.Reconcile()
	assert.Zero(t, added)
	assert.Zero(t, removed)
}

// The upstream set must equal the union of client interest and alert symbols
// after any interleaving of concurrent churn.
func TestRegistry_ConcurrentChurnKeepsUpstreamConsistent(t *testing.T) {
	up := newMockUpstream()
	r := newTestRegistry(up, nil)
	symbols := []model.Symbol{"AAPL", "MSFT", "GOOG", "TSLA", "NVDA", "AMZN"}

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(c), 42))
			id := ClientID(fmt.Sprintf("client-%d", c))
			r.Register(id)
			for i := 0; i < 500; i++ {
				sym := symbols[rng.IntN(len(symbols))]
				switch rng.IntN(10) {
				case 0:
					r.RemoveAllInterest(id)
					r.Register(id)
				case 1, 2, 3, 4:
					r.AddClientInterest(id, sym)
				default:
					r.RemoveClientInterest(id, sym)
				}
			}
		}(c)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewPCG(99, 7))
		for i := 0; i < 200; i++ {
			n := rng.IntN(3)
			r.SetAlertSymbols(symbols[:n])
			if i%20 == 0 {
				r.Reconcile()
			}
		}
	}()
	wg.Wait()

	r.state.mu.RLock()
	expected := map[model.Symbol]struct{}{}
	for _, set := range r.state.clients {
		for sym := range set {
			expected[sym] = struct{}{}
		}
	}
	for sym := range r.state.alertSymbols {
		expected[sym] = struct{}{}
	}
	r.state.mu.RUnlock()

	assert.ElementsMatch(t, keys(expected), r.DesiredUpstreamSet())
	assert.Equal(t, r.DesiredUpstreamSet(), up.Set(), "upstream calls must net out to the desired set")
}

func TestRegistry_StartRefreshesAlertSymbols(t *testing.T) {
	up := newMockUpstream()
	alerts := &mockAlerts{}
	alerts.set(nil, "AAPL", "MSFT")

	r := newTestRegistry(up, alerts)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	assert.Equal(t, []model.Symbol{"AAPL", "MSFT"}, r.DesiredUpstreamSet())
	assert.Equal(t, int64(1), r.Snapshot().Refreshes)
	assert.False(t, r.Snapshot().LastRefreshAt.IsZero())

	alerts.set(nil, "MSFT")
	r.RequestRefresh()

	require.Eventually(t, func() bool {
		return len(r.DesiredUpstreamSet()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.Symbol{"MSFT"}, up.Set())
}

func TestRegistry_RefreshFailureKeepsPreviousAlerts(t *testing.T) {
	up := newMockUpstream()
	alerts := &mockAlerts{}
	alerts.set(nil, "AAPL")

	r := newTestRegistry(up, alerts)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	alerts.set(errors.New("db down"))
	r.RequestRefresh()

	require.Eventually(t, func() bool {
		return r.Snapshot().RefreshErrors == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.Symbol{"AAPL"}, r.DesiredUpstreamSet())
}

func TestRegistry_LastClientLeavingRechecksAlerts(t *testing.T) {
	up := newMockUpstream()
	alerts := &mockAlerts{}

	r := New(Config{ReconcileInterval: time.Hour}, up, alerts, nil)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	r.Register("c1")
	r.Register("c2")
	r.AddClientInterest("c1", "AAPL")
	r.AddClientInterest("c2", "TSLA")

	// Alerts created after the last sweep; the registry has not seen them.
	alerts.set(nil, "AAPL", "TSLA")
	calls := alerts.calls.Load()

	r.RemoveClientInterest("c1", "AAPL")
	r.RemoveAllInterest("c2")

	require.Eventually(t, func() bool {
		return alerts.calls.Load() > calls && len(up.Set()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.Symbol{"AAPL", "TSLA"}, r.DesiredUpstreamSet())
	assert.Equal(t, []model.Symbol{"AAPL", "TSLA"}, up.Set())
}

func TestRegistry_RemovalKeepingSymbolSkipsRecheck(t *testing.T) {
	alerts := &mockAlerts{}
	r := New(Config{ReconcileInterval: time.Hour}, newMockUpstream(), alerts, nil)

	r.Register("c1")
	r.Register("c2")
	r.AddClientInterest("c1", "AAPL")
	r.AddClientInterest("c2", "AAPL")
	r.RemoveClientInterest("c1", "AAPL")

	select {
	case <-r.refresh:
		t.Fatal("refresh requested although AAPL is still streamed")
	default:
	}

	r.RemoveAllInterest("c2")
	select {
	case <-r.refresh:
	default:
		t.Fatal("expected a refresh request after AAPL left the upstream set")
	}
}

func TestRegistry_PeriodicSweep(t *testing.T) {
	alerts := &mockAlerts{}
	r := New(Config{ReconcileInterval: 20 * time.Millisecond}, newMockUpstream(), alerts, nil)
	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool {
		return alerts.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
}

func TestNewClientID(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
