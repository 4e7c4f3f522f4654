package connection

import (
	"encoding/json"
	"math"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// MessageKind classifies an inbound provider frame.
type MessageKind int

const (
	KindIgnored MessageKind = iota // pings, unknown types, malformed frames
	KindTrade
	KindError
)

// Decoded is the result of decoding one inbound frame.
type Decoded struct {
	Kind  MessageKind
	Ticks []model.Tick // KindTrade only; entries that failed validation are dropped
	Error string       // KindError only
}

type upstreamEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

// tradeEntry uses pointers so missing fields can be told apart from zeros.
type tradeEntry struct {
	S *string  `json:"s"`
	P *float64 `json:"p"`
	T *float64 `json:"t"`
	V *float64 `json:"v"`
}

// Decode parses a provider frame. It never fails: anything that is not a
// well-formed trade batch or provider error is reported as KindIgnored.
//
// Trade batch: {"type":"trade","data":[{"s":"AAPL","p":150.2,"t":1000,"v":10}]}
func Decode(data []byte, receivedAt time.Time) Decoded {
	var env upstreamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Decoded{Kind: KindIgnored}
	}

	switch env.Type {
	case "trade":
	case "error":
		return Decoded{Kind: KindError, Error: env.Msg}
	default:
		return Decoded{Kind: KindIgnored}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return Decoded{Kind: KindIgnored}
	}

	ticks := make([]model.Tick, 0, len(entries))
	for _, raw := range entries {
		var e tradeEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.S == nil || e.P == nil || e.T == nil {
			continue
		}
		sym := model.NormalizeSymbol(*e.S)
		if sym.IsZero() || !model.ValidPrice(*e.P) || math.IsNaN(*e.T) || math.IsInf(*e.T, 0) {
			continue
		}

		tick := model.Tick{
			Symbol:     sym,
			Price:      *e.P,
			Timestamp:  int64(*e.T),
			ReceivedAt: receivedAt,
		}
		if e.V != nil {
			tick.Volume = *e.V
		}
		ticks = append(ticks, tick)
	}

	return Decoded{Kind: KindTrade, Ticks: ticks}
}
