package router

import (
	"sync"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// Freshness records when each symbol last produced a live tick.
// Entries are never deleted.
type Freshness struct {
	mu   sync.RWMutex
	seen map[model.Symbol]time.Time
}

// NewFreshness creates an empty table.
func NewFreshness() *Freshness {
	return &Freshness{seen: make(map[model.Symbol]time.Time)}
}

// Touch records a tick for sym at the given time. Older timestamps never
// move an entry backwards.
func (f *Freshness) Touch(sym model.Symbol, at time.Time) {
	f.mu.Lock()
	if prev, ok := f.seen[sym]; !ok || at.After(prev) {
		f.seen[sym] = at
	}
	f.mu.Unlock()
}

// LastSeen returns the last tick time for sym.
func (f *Freshness) LastSeen(sym model.Symbol) (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	at, ok := f.seen[sym]
	return at, ok
}

// Len returns the number of symbols that have ever ticked.
func (f *Freshness) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.seen)
}
