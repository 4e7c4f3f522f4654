package connection

import (
	"errors"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the lifecycle state of the upstream link.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Command is an outbound subscription command.
type Command struct {
	Type   string `json:"type"` // "subscribe" or "unsubscribe"
	Symbol string `json:"symbol"`
}

// Command types.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// TickHandler receives decoded ticks. Implementations must not block.
type TickHandler interface {
	HandleTick(tick model.Tick)
}

// TickHandlerFunc is a function adapter for TickHandler.
type TickHandlerFunc func(model.Tick)

func (f TickHandlerFunc) HandleTick(t model.Tick) {
	f(t)
}

// DesiredSource reports the authoritative set of symbols that should be
// streamed. The link consults it on every connect.
type DesiredSource interface {
	DesiredUpstreamSet() []model.Symbol
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Full WebSocket URL including credentials
	PingInterval time.Duration // Interval between keepalive pings
	ReadTimeout  time.Duration // Max time without any inbound frame before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 20 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// LinkConfig configures the upstream Link.
type LinkConfig struct {
	URL            string        // Provider WebSocket URL without credentials (e.g., wss://ws.finnhub.io)
	APIKey         string        // Provider token, appended as ?token=; empty disables the link
	ReconnectDelay time.Duration // Fixed wait between connection attempts, must be > 0
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
}

// DefaultLinkConfig returns sensible defaults.
func DefaultLinkConfig() LinkConfig {
	cc := DefaultClientConfig()
	return LinkConfig{
		URL:            "wss://ws.finnhub.io",
		ReconnectDelay: 1500 * time.Millisecond,
		PingInterval:   cc.PingInterval,
		ReadTimeout:    cc.ReadTimeout,
		WriteTimeout:   cc.WriteTimeout,
		BufferSize:     cc.BufferSize,
	}
}

// LinkStats is a point-in-time view of the link.
type LinkStats struct {
	State       string `json:"state"`
	Connects    int64  `json:"connects"`
	Disconnects int64  `json:"disconnects"`
	Ticks       int64  `json:"ticks"`
	Discarded   int64  `json:"discarded"`
	Desired     int    `json:"desired"`
	Subscribed  int    `json:"subscribed"`
}
