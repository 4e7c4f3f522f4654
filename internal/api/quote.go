package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// QuoteResponse from GET /quote. Unknown symbols come back as all zeros
// with null change fields.
type QuoteResponse struct {
	Current       float64  `json:"c"`
	Change        *float64 `json:"d"`
	ChangePercent *float64 `json:"dp"`
	High          float64  `json:"h"`
	Low           float64  `json:"l"`
	Open          float64  `json:"o"`
	PreviousClose float64  `json:"pc"`
	Timestamp     int64    `json:"t"`
}

// GetQuote fetches the latest quote for sym. Callers decide whether the
// returned price is usable.
func (c *Client) GetQuote(ctx context.Context, sym model.Symbol) (model.Quote, error) {
	var resp QuoteResponse
	query := url.Values{"symbol": {string(sym)}}
	if err := c.get(ctx, "/quote", query, &resp); err != nil {
		return model.Quote{}, fmt.Errorf("get quote %s: %w", sym, err)
	}
	return resp.toModel(sym, time.Now()), nil
}

func (r QuoteResponse) toModel(sym model.Symbol, fetchedAt time.Time) model.Quote {
	q := model.Quote{
		Symbol:        sym,
		Current:       r.Current,
		High:          r.High,
		Low:           r.Low,
		Open:          r.Open,
		PreviousClose: r.PreviousClose,
		Timestamp:     r.Timestamp,
		FetchedAt:     fetchedAt,
	}
	if r.Change != nil {
		q.Change = *r.Change
	}
	if r.ChangePercent != nil {
		q.ChangePercent = *r.ChangePercent
	}
	return q
}
