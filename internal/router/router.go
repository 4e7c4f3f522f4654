package router

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/price-alerts/internal/alerts"
	"github.com/rickgao/price-alerts/internal/model"
	"github.com/rickgao/price-alerts/internal/protocol"
	"github.com/rickgao/price-alerts/internal/registry"
)

// Router delivers ticks and quotes to interested connections.
type Router struct {
	interests Interests
	evaluator Evaluator
	fresh     *Freshness
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	arena map[registry.ClientID]Sender

	ticks      atomic.Int64
	quotes     atomic.Int64
	deliveries atomic.Int64
	failures   atomic.Int64
}

// New creates a Router. evaluator may be nil, in which case no alerts are
// evaluated.
func New(interests Interests, evaluator Evaluator, fresh *Freshness, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if fresh == nil {
		fresh = NewFreshness()
	}
	return &Router{
		interests: interests,
		evaluator: evaluator,
		fresh:     fresh,
		logger:    logger.With("component", "router"),
		now:       time.Now,
		arena:     make(map[registry.ClientID]Sender),
	}
}

// Freshness returns the tick recency table shared with the poller.
func (r *Router) Freshness() *Freshness {
	return r.fresh
}

// Attach makes a connection reachable for delivery.
func (r *Router) Attach(id registry.ClientID, s Sender) {
	r.mu.Lock()
	r.arena[id] = s
	r.mu.Unlock()
}

// Detach removes a connection. Unknown ids are ignored.
func (r *Router) Detach(id registry.ClientID) {
	r.mu.Lock()
	delete(r.arena, id)
	r.mu.Unlock()
}

// Deliver sends payload to every attached client interested in sym and
// returns how many sends succeeded. Interested clients that are not attached
// are skipped.
func (r *Router) Deliver(sym model.Symbol, payload []byte) int {
	ids := r.interests.Interested(sym)
	if len(ids) == 0 {
		return 0
	}

	targets := make([]Sender, 0, len(ids))
	r.mu.RLock()
	for _, id := range ids {
		if s, ok := r.arena[id]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			r.failures.Add(1)
			r.logger.Debug("delivery failed", "symbol", sym, "err", err)
			continue
		}
		delivered++
	}
	r.deliveries.Add(int64(delivered))
	return delivered
}

// HandleTick implements connection.TickHandler.
func (r *Router) HandleTick(t model.Tick) {
	r.ticks.Add(1)

	at := t.ReceivedAt
	if at.IsZero() {
		at = r.now()
	}
	r.fresh.Touch(t.Symbol, at)

	r.Deliver(t.Symbol, protocol.TickFrame(t))
	r.submit(alerts.Observation{
		Symbol:     t.Symbol,
		Price:      t.Price,
		Source:     alerts.SourceTick,
		ObservedAt: at,
	})
}

// HandleQuote delivers a polled quote. It does not touch freshness.
func (r *Router) HandleQuote(q model.Quote) {
	r.quotes.Add(1)

	r.Deliver(q.Symbol, protocol.QuoteFrame(q))
	r.submit(alerts.Observation{
		Symbol:     q.Symbol,
		Price:      q.Current,
		Source:     alerts.SourceQuote,
		ObservedAt: q.FetchedAt,
	})
}

func (r *Router) submit(obs alerts.Observation) {
	if r.evaluator == nil {
		return
	}
	r.evaluator.Submit(obs)
}

// Attached returns the number of attached connections.
func (r *Router) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arena)
}

// Stats returns router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Ticks:            r.ticks.Load(),
		Quotes:           r.quotes.Load(),
		Deliveries:       r.deliveries.Load(),
		DeliveryFailures: r.failures.Load(),
		Attached:         r.Attached(),
		FreshSymbols:     r.fresh.Len(),
	}
}
