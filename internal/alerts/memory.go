package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/price-alerts/internal/model"
)

// Alert is a stored price alert.
type Alert struct {
	ID          string
	UserID      string
	Symbol      model.Symbol
	TargetPrice float64
	IsTriggered bool
	TriggeredAt time.Time
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*Alert),
		now:    time.Now,
	}
}

// Add stores a new untriggered alert and returns its id.
func (s *MemoryStore) Add(userID string, sym model.Symbol, target float64) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.alerts[id] = &Alert{ID: id, UserID: userID, Symbol: sym, TargetPrice: target}
	s.mu.Unlock()
	return id
}

// Get returns a copy of an alert.
func (s *MemoryStore) Get(id string) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

// UniqueActiveSymbols implements Store.
func (s *MemoryStore) UniqueActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[model.Symbol]struct{})
	for _, a := range s.alerts {
		if !a.IsTriggered {
			set[a.Symbol] = struct{}{}
		}
	}
	out := make([]model.Symbol, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return model.SortSymbols(out), nil
}

// EvaluateTick implements Store.
func (s *MemoryStore) EvaluateTick(ctx context.Context, sym model.Symbol, price float64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var fired []Trigger
	for _, a := range s.alerts {
		if a.IsTriggered || a.Symbol != sym || a.TargetPrice > price {
			continue
		}
		a.IsTriggered = true
		a.TriggeredAt = now
		fired = append(fired, Trigger{
			AlertID:     a.ID,
			UserID:      a.UserID,
			Symbol:      sym,
			TargetPrice: a.TargetPrice,
			Price:       price,
			TriggeredAt: now,
		})
	}

	if len(fired) == 0 {
		return Result{}, nil
	}
	return Result{Triggered: len(fired), Notifications: dedupePerUser(fired)}, nil
}
