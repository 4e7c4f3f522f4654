package registry

import (
	"sync"

	"github.com/rickgao/price-alerts/internal/model"
)

// state holds the authoritative registry data. All methods require mu.
type state struct {
	mu sync.RWMutex

	// Interest sets owned per client, keyed by connection id.
	clients map[ClientID]map[model.Symbol]struct{}

	// Reverse index of clients, derived from clients.
	interested map[model.Symbol]map[ClientID]struct{}

	// Symbols with at least one untriggered alert.
	alertSymbols map[model.Symbol]struct{}

	// Symbols currently requested from the upstream.
	upstream map[model.Symbol]struct{}
}

func newState() *state {
	return &state{
		clients:      make(map[ClientID]map[model.Symbol]struct{}),
		interested:   make(map[model.Symbol]map[ClientID]struct{}),
		alertSymbols: make(map[model.Symbol]struct{}),
		upstream:     make(map[model.Symbol]struct{}),
	}
}

func (s *state) register(id ClientID) bool {
	if _, ok := s.clients[id]; ok {
		return false
	}
	s.clients[id] = make(map[model.Symbol]struct{})
	return true
}

func (s *state) addInterest(id ClientID, sym model.Symbol) bool {
	set, ok := s.clients[id]
	if !ok || sym.IsZero() {
		return false
	}
	if _, ok := set[sym]; ok {
		return false
	}
	set[sym] = struct{}{}

	ids := s.interested[sym]
	if ids == nil {
		ids = make(map[ClientID]struct{})
		s.interested[sym] = ids
	}
	ids[id] = struct{}{}
	return true
}

func (s *state) removeInterest(id ClientID, sym model.Symbol) bool {
	set, ok := s.clients[id]
	if !ok {
		return false
	}
	if _, ok := set[sym]; !ok {
		return false
	}
	delete(set, sym)
	s.unindex(id, sym)
	return true
}

func (s *state) removeClient(id ClientID) []model.Symbol {
	set, ok := s.clients[id]
	if !ok {
		return nil
	}
	released := make([]model.Symbol, 0, len(set))
	for sym := range set {
		s.unindex(id, sym)
		released = append(released, sym)
	}
	delete(s.clients, id)
	return released
}

func (s *state) unindex(id ClientID, sym model.Symbol) {
	ids := s.interested[sym]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.interested, sym)
	}
}

// setAlertSymbols replaces the alert set and returns the symbols whose
// alert membership changed.
func (s *state) setAlertSymbols(symbols []model.Symbol) []model.Symbol {
	next := make(map[model.Symbol]struct{}, len(symbols))
	for _, sym := range symbols {
		if !sym.IsZero() {
			next[sym] = struct{}{}
		}
	}

	var changed []model.Symbol
	for sym := range s.alertSymbols {
		if _, ok := next[sym]; !ok {
			changed = append(changed, sym)
		}
	}
	for sym := range next {
		if _, ok := s.alertSymbols[sym]; !ok {
			changed = append(changed, sym)
		}
	}
	s.alertSymbols = next
	return changed
}

// rebuild re-derives the interest index from the client arena and returns
// every symbol that could be affected.
func (s *state) rebuild() []model.Symbol {
	s.interested = make(map[model.Symbol]map[ClientID]struct{})
	for id, set := range s.clients {
		for sym := range set {
			ids := s.interested[sym]
			if ids == nil {
				ids = make(map[ClientID]struct{})
				s.interested[sym] = ids
			}
			ids[id] = struct{}{}
		}
	}

	all := make(map[model.Symbol]struct{}, len(s.upstream)+len(s.interested)+len(s.alertSymbols))
	for sym := range s.upstream {
		all[sym] = struct{}{}
	}
	for sym := range s.interested {
		all[sym] = struct{}{}
	}
	for sym := range s.alertSymbols {
		all[sym] = struct{}{}
	}
	return keys(all)
}

func (s *state) desired(sym model.Symbol) bool {
	if len(s.interested[sym]) > 0 {
		return true
	}
	_, ok := s.alertSymbols[sym]
	return ok
}

// reconcile brings the upstream set in line with the desired union for the
// touched symbols and returns the flips, sorted.
func (s *state) reconcile(touched []model.Symbol) (subs, unsubs []model.Symbol) {
	for _, sym := range touched {
		want := s.desired(sym)
		_, have := s.upstream[sym]
		switch {
		case want && !have:
			s.upstream[sym] = struct{}{}
			subs = append(subs, sym)
		case !want && have:
			delete(s.upstream, sym)
			unsubs = append(unsubs, sym)
		}
	}
	return model.SortSymbols(subs), model.SortSymbols(unsubs)
}
