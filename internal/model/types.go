package model

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Symbol is a canonical ticker identifier (e.g., "AAPL").
type Symbol string

// NormalizeSymbol trims whitespace and uppercases a raw ticker string.
// The result may be empty; callers decide whether that is acceptable.
func NormalizeSymbol(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

// String implements fmt.Stringer.
func (s Symbol) String() string {
	return string(s)
}

// IsZero reports whether the symbol is empty.
func (s Symbol) IsZero() bool {
	return s == ""
}

// SortSymbols sorts a slice of symbols in place and returns it.
func SortSymbols(symbols []Symbol) []Symbol {
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols
}

// -----------------------------------------------------------------------------
// Price Observations
// -----------------------------------------------------------------------------

// Tick is a single trade observation from the live stream. Ticks are transient.
type Tick struct {
	Symbol     Symbol    // Canonical symbol
	Price      float64   // Trade price
	Volume     float64   // Trade size (0 if the provider omitted it)
	Timestamp  int64     // Provider trade timestamp (ms since epoch)
	ReceivedAt time.Time // Local receipt time
}

// Quote is a REST snapshot of a symbol, used by the fallback poller.
type Quote struct {
	Symbol        Symbol    // Canonical symbol
	Current       float64   // Current price
	Change        float64   // Absolute change vs previous close
	ChangePercent float64   // Percent change vs previous close
	High          float64   // Day high
	Low           float64   // Day low
	Open          float64   // Day open
	PreviousClose float64   // Previous close
	Timestamp     int64     // Provider quote timestamp (s since epoch)
	FetchedAt     time.Time // Local fetch time
}

// ValidPrice reports whether p is usable as a price observation.
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}
