package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/price-alerts/internal/model"
)

// ClientID identifies one downstream connection.
type ClientID string

// NewClientID returns a fresh random client id.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// Upstream receives subscription flips. Implementations must not block.
type Upstream interface {
	EnsureSubscribed(sym model.Symbol)
	EnsureUnsubscribed(sym model.Symbol)
}

// AlertSource reports symbols that have at least one untriggered alert.
type AlertSource interface {
	UniqueActiveSymbols(ctx context.Context) ([]model.Symbol, error)
}

// Config holds registry configuration.
type Config struct {
	ReconcileInterval time.Duration // Alert refresh + self-healing sweep (default: 5m)
	RefreshTimeout    time.Duration // Per-refresh alert store timeout (default: 15s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Minute,
		RefreshTimeout:    15 * time.Second,
	}
}

// Registry is the subscription registry. All methods are safe for
// concurrent use.
type Registry struct {
	cfg      Config
	upstream Upstream
	alerts   AlertSource
	logger   *slog.Logger

	state *state

	// notifyMu is taken before mu is released so flips reach the upstream
	// in the same order they were decided.
	notifyMu sync.Mutex

	refresh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshes     atomic.Int64
	refreshErrors atomic.Int64
	lastRefreshAt atomic.Int64 // unix nanos
}

// New creates a registry. alerts may be nil, in which case only client
// interest drives the upstream set.
func New(cfg Config, upstream Upstream, alerts AlertSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}
	return &Registry{
		cfg:      cfg,
		upstream: upstream,
		alerts:   alerts,
		logger:   logger.With("component", "registry"),
		state:    newState(),
		refresh:  make(chan struct{}, 1),
	}
}

// Register creates an empty interest set for a client. It returns false if
// the client is already registered.
func (r *Registry) Register(id ClientID) bool {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.state.register(id)
}

// AddClientInterest records that client id wants sym. It returns true if the
// interest is new. Unknown clients are ignored.
func (r *Registry) AddClientInterest(id ClientID, sym model.Symbol) bool {
	var added bool
	r.mutate(func(s *state) []model.Symbol {
		added = s.addInterest(id, sym)
		if !added {
			return nil
		}
		return []model.Symbol{sym}
	})
	return added
}

// RemoveClientInterest drops client id's interest in sym. It returns true if
// the interest existed.
func (r *Registry) RemoveClientInterest(id ClientID, sym model.Symbol) bool {
	var removed bool
	_, unsubs := r.mutate(func(s *state) []model.Symbol {
		removed = s.removeInterest(id, sym)
		if !removed {
			return nil
		}
		return []model.Symbol{sym}
	})
	r.recheckAlerts(unsubs)
	return removed
}

// RemoveAllInterest releases every interest of client id and forgets the
// client. It returns the released symbols.
func (r *Registry) RemoveAllInterest(id ClientID) []model.Symbol {
	var released []model.Symbol
	_, unsubs := r.mutate(func(s *state) []model.Symbol {
		released = s.removeClient(id)
		return released
	})
	r.recheckAlerts(unsubs)
	return model.SortSymbols(released)
}

// recheckAlerts schedules an alert refresh when client departures dropped
// symbols from the upstream set. The cached alert symbols may predate an
// alert created since the last sweep; the refresh re-adds such symbols.
func (r *Registry) recheckAlerts(dropped []model.Symbol) {
	if len(dropped) == 0 || r.alerts == nil {
		return
	}
	r.RequestRefresh()
}

// SetAlertSymbols replaces the alert-symbol set.
func (r *Registry) SetAlertSymbols(symbols []model.Symbol) {
	r.mutate(func(s *state) []model.Symbol {
		return s.setAlertSymbols(symbols)
	})
}

// Reconcile rebuilds the interest index from the client arena and re-derives
// the upstream set from scratch. It returns the number of symbols added to
// and removed from the upstream set.
func (r *Registry) Reconcile() (added, removed int) {
	subs, unsubs := r.mutate(func(s *state) []model.Symbol {
		return s.rebuild()
	})
	return len(subs), len(unsubs)
}

// DesiredUpstreamSet returns the symbols that should currently be streamed,
// sorted.
func (r *Registry) DesiredUpstreamSet() []model.Symbol {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	return model.SortSymbols(keys(r.state.upstream))
}

// Interested returns the clients currently interested in sym.
func (r *Registry) Interested(sym model.Symbol) []ClientID {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	ids := make([]ClientID, 0, len(r.state.interested[sym]))
	for id := range r.state.interested[sym] {
		ids = append(ids, id)
	}
	return ids
}

// ClientInterests returns the symbols client id is subscribed to, sorted.
func (r *Registry) ClientInterests(id ClientID) []model.Symbol {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	return model.SortSymbols(keys(r.state.clients[id]))
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Clients       int                  `json:"clients"`
	Interest      map[model.Symbol]int `json:"interest"`
	AlertSymbols  []model.Symbol       `json:"alert_symbols"`
	Upstream      []model.Symbol       `json:"upstream"`
	Refreshes     int64                `json:"refreshes"`
	RefreshErrors int64                `json:"refresh_errors"`
	LastRefreshAt time.Time            `json:"last_refresh_at"`
}

// Snapshot returns current registry state.
func (r *Registry) Snapshot() Snapshot {
	r.state.mu.RLock()
	snap := Snapshot{
		Clients:      len(r.state.clients),
		Interest:     make(map[model.Symbol]int, len(r.state.interested)),
		AlertSymbols: model.SortSymbols(keys(r.state.alertSymbols)),
		Upstream:     model.SortSymbols(keys(r.state.upstream)),
	}
	for sym, ids := range r.state.interested {
		snap.Interest[sym] = len(ids)
	}
	r.state.mu.RUnlock()

	snap.Refreshes = r.refreshes.Load()
	snap.RefreshErrors = r.refreshErrors.Load()
	if ns := r.lastRefreshAt.Load(); ns > 0 {
		snap.LastRefreshAt = time.Unix(0, ns)
	}
	return snap
}

// mutate applies fn under the state lock, recomputes the union for the
// symbols fn reports as touched, and forwards flips to the upstream after
// the state lock is released.
func (r *Registry) mutate(fn func(s *state) []model.Symbol) (subs, unsubs []model.Symbol) {
	r.state.mu.Lock()
	touched := fn(r.state)
	subs, unsubs = r.state.reconcile(touched)
	r.notifyMu.Lock()
	r.state.mu.Unlock()
	defer r.notifyMu.Unlock()

	if r.upstream == nil {
		return subs, unsubs
	}
	for _, sym := range subs {
		r.upstream.EnsureSubscribed(sym)
	}
	for _, sym := range unsubs {
		r.upstream.EnsureUnsubscribed(sym)
	}
	if len(subs) > 0 || len(unsubs) > 0 {
		r.logger.Debug("upstream set changed",
			"added", subs,
			"removed", unsubs,
		)
	}
	return subs, unsubs
}

func keys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
