package alerts

import (
	"context"
	"sort"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// Trigger is one alert that fired for an observed price.
type Trigger struct {
	AlertID     string       `json:"alertId"`
	UserID      string       `json:"userId"`
	Symbol      model.Symbol `json:"symbol"`
	TargetPrice float64      `json:"targetPrice"`
	Price       float64      `json:"price"`
	TriggeredAt time.Time    `json:"triggeredAt"`
}

// Result is the outcome of evaluating one observation.
type Result struct {
	Triggered     int       // Number of alerts marked triggered
	Notifications []Trigger // One per user, the highest target that fired
}

// Store is the persistent alert collaborator.
type Store interface {
	// UniqueActiveSymbols returns symbols with at least one untriggered alert.
	UniqueActiveSymbols(ctx context.Context) ([]model.Symbol, error)

	// EvaluateTick atomically marks every untriggered alert on sym with
	// targetPrice <= price as triggered.
	EvaluateTick(ctx context.Context, sym model.Symbol, price float64) (Result, error)
}

// Notifier delivers triggered alerts to users.
type Notifier interface {
	NotifyAlertTriggered(ctx context.Context, t Trigger) error
	Close() error
}

// dedupePerUser keeps, for each user, the trigger with the highest target
// price. Output is ordered by user id.
func dedupePerUser(triggers []Trigger) []Trigger {
	best := make(map[string]Trigger, len(triggers))
	for _, t := range triggers {
		prev, ok := best[t.UserID]
		if !ok || t.TargetPrice > prev.TargetPrice {
			best[t.UserID] = t
		}
	}

	out := make([]Trigger, 0, len(best))
	for _, t := range best {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
