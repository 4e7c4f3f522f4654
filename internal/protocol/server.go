package protocol

import (
	"encoding/json"

	"github.com/rickgao/price-alerts/internal/model"
)

// ServerFrameType is the discriminator of a gateway -> client frame.
type ServerFrameType string

const (
	FrameSubscribed   ServerFrameType = "subscribed"
	FrameUnsubscribed ServerFrameType = "unsubscribed"
	FrameTick         ServerFrameType = "tick"
	FrameQuote        ServerFrameType = "quote"
	FrameError        ServerFrameType = "error"
)

// SourcePoll marks quote frames produced by the fallback poller.
const SourcePoll = "poll"

type ackFrame struct {
	Type   ServerFrameType `json:"type"`
	Symbol string          `json:"symbol"`
}

type tickFrame struct {
	Type   ServerFrameType `json:"type"`
	Symbol string          `json:"symbol"`
	Price  float64         `json:"price"`
	TS     int64           `json:"ts"`
}

type quoteFrame struct {
	Type      ServerFrameType `json:"type"`
	Symbol    string          `json:"symbol"`
	Price     float64         `json:"price"`
	PrevClose float64         `json:"prevClose"`
	TS        int64           `json:"ts"`
	Source    string          `json:"source"`
}

type errorFrame struct {
	Type    ServerFrameType `json:"type"`
	Message string          `json:"message"`
}

// Subscribed encodes a subscribe acknowledgment.
func Subscribed(sym model.Symbol) []byte {
	return mustMarshal(ackFrame{Type: FrameSubscribed, Symbol: string(sym)})
}

// Unsubscribed encodes an unsubscribe acknowledgment.
func Unsubscribed(sym model.Symbol) []byte {
	return mustMarshal(ackFrame{Type: FrameUnsubscribed, Symbol: string(sym)})
}

// TickFrame encodes a live trade tick. ts is the provider trade timestamp.
func TickFrame(t model.Tick) []byte {
	return mustMarshal(tickFrame{
		Type:   FrameTick,
		Symbol: string(t.Symbol),
		Price:  t.Price,
		TS:     t.Timestamp,
	})
}

// QuoteFrame encodes a polled quote. ts is the local fetch time in ms.
func QuoteFrame(q model.Quote) []byte {
	return mustMarshal(quoteFrame{
		Type:      FrameQuote,
		Symbol:    string(q.Symbol),
		Price:     q.Current,
		PrevClose: q.PreviousClose,
		TS:        q.FetchedAt.UnixMilli(),
		Source:    SourcePoll,
	})
}

// ErrorFrame encodes an error frame.
func ErrorFrame(message string) []byte {
	return mustMarshal(errorFrame{Type: FrameError, Message: message})
}

// ServerFrame is a decoded gateway -> client frame. Fields not carried by the
// frame's type are zero.
type ServerFrame struct {
	Type      ServerFrameType `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	Price     float64         `json:"price,omitempty"`
	PrevClose float64         `json:"prevClose,omitempty"`
	TS        int64           `json:"ts,omitempty"`
	Source    string          `json:"source,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ParseServerFrame decodes a gateway frame.
func ParseServerFrame(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, err
	}
	return f, nil
}

// mustMarshal encodes frames built only from strings and finite floats.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("protocol: marshal frame: " + err.Error())
	}
	return data
}
