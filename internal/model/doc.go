// Package model defines shared data types used across the price-alert gateway.
//
// Conventions:
//   - Symbols: canonical uppercase, trimmed ticker strings (see NormalizeSymbol)
//   - Prices: float64 in the instrument's quote currency
//   - Provider timestamps: int64 as delivered by the provider (ms for trades, s for quotes)
//   - Local timestamps: time.Time captured at receipt
package model
