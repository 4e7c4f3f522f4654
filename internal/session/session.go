package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/price-alerts/internal/auth"
	"github.com/rickgao/price-alerts/internal/model"
	"github.com/rickgao/price-alerts/internal/protocol"
	"github.com/rickgao/price-alerts/internal/registry"
	"github.com/rickgao/price-alerts/internal/router"
)

// Close codes used when ending a connection.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// ErrUnauthorized is returned by Serve when the client failed authentication.
var ErrUnauthorized = errors.New("unauthorized")

// Transport is one client's framed, bidirectional connection.
type Transport interface {
	// Receive blocks for the next inbound text frame. It returns io.EOF
	// once the peer has gone away.
	Receive(ctx context.Context) ([]byte, error)

	// Send queues a frame without blocking.
	Send(payload []byte) error

	// Close flushes queued frames, then closes with the given code.
	Close(code int, reason string) error

	// RequestURL is the URL of the request that opened the connection.
	RequestURL() string
}

// Verifier authenticates a connection from its request URL.
type Verifier interface {
	Verify(ctx context.Context, rawURL string) (auth.Identity, error)
}

// Registry is the interest bookkeeping a session drives.
type Registry interface {
	Register(id registry.ClientID) bool
	AddClientInterest(id registry.ClientID, sym model.Symbol) bool
	RemoveClientInterest(id registry.ClientID, sym model.Symbol) bool
	RemoveAllInterest(id registry.ClientID) []model.Symbol
}

// Router is the fan-out arena a session attaches its transport to.
type Router interface {
	Attach(id registry.ClientID, s router.Sender)
	Detach(id registry.ClientID)
}

// Stats contains session counters.
type Stats struct {
	Active         int64 `json:"active"`
	Accepted       int64 `json:"accepted"`
	AuthFailures   int64 `json:"auth_failures"`
	ProtocolErrors int64 `json:"protocol_errors"`
	Subscribes     int64 `json:"subscribes"`
	Unsubscribes   int64 `json:"unsubscribes"`
}

// Handler serves client connections.
type Handler struct {
	verifier Verifier
	registry Registry
	router   Router
	logger   *slog.Logger
	newID    func() registry.ClientID

	active         atomic.Int64
	accepted       atomic.Int64
	authFailures   atomic.Int64
	protocolErrors atomic.Int64
	subscribes     atomic.Int64
	unsubscribes   atomic.Int64
}

// NewHandler creates a Handler.
func NewHandler(verifier Verifier, reg Registry, rt Router, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier: verifier,
		registry: reg,
		router:   rt,
		logger:   logger.With("component", "session"),
		newID:    registry.NewClientID,
	}
}

// Serve runs one connection until the transport ends or ctx is canceled.
// It returns ErrUnauthorized (wrapped) when authentication fails and nil on
// an ordinary disconnect.
func (h *Handler) Serve(ctx context.Context, t Transport) error {
	ident, err := h.verifier.Verify(ctx, t.RequestURL())
	if err != nil {
		h.authFailures.Add(1)
		h.logger.Warn("rejecting unauthenticated connection", "err", err)
		if sendErr := t.Send(protocol.ErrorFrame(auth.Message(err))); sendErr != nil {
			h.logger.Debug("auth error frame not sent", "err", sendErr)
		}
		t.Close(ClosePolicyViolation, "Policy Violation")
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	id := h.newID()
	logger := h.logger.With("client_id", id, "subject", ident.Subject)

	h.registry.Register(id)
	h.router.Attach(id, t)
	h.accepted.Add(1)
	h.active.Add(1)
	logger.Info("client connected")

	defer func() {
		h.router.Detach(id)
		released := h.registry.RemoveAllInterest(id)
		h.active.Add(-1)
		logger.Info("client disconnected", "released", len(released))
	}()

	for {
		data, err := t.Receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				t.Close(CloseGoingAway, "server shutting down")
			case errors.Is(err, io.EOF):
				t.Close(CloseNormal, "")
			default:
				logger.Debug("receive failed", "err", err)
				t.Close(CloseNormal, "")
			}
			return nil
		}
		h.handleMessage(logger, id, t, data)
	}
}

// handleMessage applies one client frame. Rejected frames change no state.
func (h *Handler) handleMessage(logger *slog.Logger, id registry.ClientID, t Transport, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		h.protocolErrors.Add(1)
		reply := protocol.MsgInvalidFormat
		if errors.Is(err, protocol.ErrInvalidJSON) {
			reply = protocol.MsgInvalidJSON
		}
		logger.Debug("rejecting client message", "err", err)
		h.reply(logger, t, protocol.ErrorFrame(reply))
		return
	}

	if msg.Symbol.IsZero() {
		return
	}

	switch msg.Type {
	case protocol.TypeSubscribe:
		h.subscribes.Add(1)
		h.registry.AddClientInterest(id, msg.Symbol)
		h.reply(logger, t, protocol.Subscribed(msg.Symbol))
	case protocol.TypeUnsubscribe:
		h.unsubscribes.Add(1)
		h.registry.RemoveClientInterest(id, msg.Symbol)
		h.reply(logger, t, protocol.Unsubscribed(msg.Symbol))
	}
}

func (h *Handler) reply(logger *slog.Logger, t Transport, frame []byte) {
	if err := t.Send(frame); err != nil {
		logger.Debug("reply not sent", "err", err)
	}
}

// Stats returns session counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Active:         h.active.Load(),
		Accepted:       h.accepted.Load(),
		AuthFailures:   h.authFailures.Load(),
		ProtocolErrors: h.protocolErrors.Load(),
		Subscribes:     h.subscribes.Load(),
		Unsubscribes:   h.unsubscribes.Load(),
	}
}
