package protocol

import (
	"encoding/json"
	"errors"

	"github.com/rickgao/price-alerts/internal/model"
)

// ClientMessageType is the discriminator of a client message.
type ClientMessageType string

const (
	TypeSubscribe   ClientMessageType = "subscribe"
	TypeUnsubscribe ClientMessageType = "unsubscribe"
)

// Error messages sent back to clients for rejected frames.
const (
	MsgInvalidJSON   = "Invalid JSON"
	MsgInvalidFormat = "Invalid message format"
)

// Parse errors. Their text is what the client sees in the error frame.
var (
	ErrInvalidJSON   = errors.New(MsgInvalidJSON)
	ErrInvalidFormat = errors.New(MsgInvalidFormat)
)

// ClientMessage is a parsed client command. Type is always TypeSubscribe or
// TypeUnsubscribe. Symbol is canonicalized and may be empty.
type ClientMessage struct {
	Type   ClientMessageType
	Symbol model.Symbol
}

type clientEnvelope struct {
	Type   string          `json:"type"`
	Symbol json.RawMessage `json:"symbol"`
}

// ParseClientMessage decodes a client text frame. It returns ErrInvalidJSON for
// bytes that are not JSON and ErrInvalidFormat for any JSON that is not one of
// the two accepted shapes.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	if !json.Valid(data) {
		return ClientMessage{}, ErrInvalidJSON
	}

	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientMessage{}, ErrInvalidFormat
	}

	typ := ClientMessageType(env.Type)
	if typ != TypeSubscribe && typ != TypeUnsubscribe {
		return ClientMessage{}, ErrInvalidFormat
	}

	// symbol must be present and a JSON string (null, numbers, objects rejected)
	if len(env.Symbol) == 0 || env.Symbol[0] != '"' {
		return ClientMessage{}, ErrInvalidFormat
	}
	var raw string
	if err := json.Unmarshal(env.Symbol, &raw); err != nil {
		return ClientMessage{}, ErrInvalidFormat
	}

	return ClientMessage{
		Type:   typ,
		Symbol: model.NormalizeSymbol(raw),
	}, nil
}

// Marshal encodes a client command. Used by the diagnostic client and tests.
func (m ClientMessage) Marshal() []byte {
	data, _ := json.Marshal(struct {
		Type   ClientMessageType `json:"type"`
		Symbol string            `json:"symbol"`
	}{m.Type, string(m.Symbol)})
	return data
}
