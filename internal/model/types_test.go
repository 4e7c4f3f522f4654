package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Symbol
	}{
		{name: "already canonical", in: "AAPL", want: "AAPL"},
		{name: "lowercase", in: "msft", want: "MSFT"},
		{name: "surrounding whitespace", in: "  aapl ", want: "AAPL"},
		{name: "tabs and newline", in: "\tbrk.b\n", want: "BRK.B"},
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSymbol(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == "", got.IsZero())
		})
	}
}

func TestNormalizeSymbol_Equality(t *testing.T) {
	assert.Equal(t, NormalizeSymbol("aapl "), NormalizeSymbol(" AAPL"))
	assert.NotEqual(t, NormalizeSymbol("AAPL"), NormalizeSymbol("AAP L"))
}

func TestSortSymbols(t *testing.T) {
	got := SortSymbols([]Symbol{"MSFT", "AAPL", "TSLA", "AMZN"})
	assert.Equal(t, []Symbol{"AAPL", "AMZN", "MSFT", "TSLA"}, got)
}

func TestValidPrice(t *testing.T) {
	tests := []struct {
		price float64
		want  bool
	}{
		{150.25, true},
		{0.0001, true},
		{0, false},
		{-1, false},
		{math.NaN(), false},
		{math.Inf(1), false},
		{math.Inf(-1), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidPrice(tt.price), "ValidPrice(%v)", tt.price)
	}
}
