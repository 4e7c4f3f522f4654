package router

import (
	"github.com/rickgao/price-alerts/internal/alerts"
	"github.com/rickgao/price-alerts/internal/model"
	"github.com/rickgao/price-alerts/internal/registry"
)

// Sender is an attached connection's outbound side. Send must not block.
type Sender interface {
	Send(payload []byte) error
}

// Interests reports which clients want a symbol.
type Interests interface {
	Interested(sym model.Symbol) []registry.ClientID
}

// Evaluator accepts price observations for alert evaluation.
type Evaluator interface {
	Submit(obs alerts.Observation) bool
}

// Stats contains router counters.
type Stats struct {
	Ticks            int64 `json:"ticks"`
	Quotes           int64 `json:"quotes"`
	Deliveries       int64 `json:"deliveries"`
	DeliveryFailures int64 `json:"delivery_failures"`
	Attached         int   `json:"attached"`
	FreshSymbols     int   `json:"fresh_symbols"`
}
