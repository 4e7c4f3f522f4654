package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport errors.
var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClosed         = errors.New("connection closed")
)

type transportConfig struct {
	SendBuffer   int
	ReadLimit    int64
	WriteTimeout time.Duration
	PongTimeout  time.Duration
}

// wsTransport adapts a gorilla connection to session.Transport. One
// goroutine reads and one writes; Send only ever enqueues.
type wsTransport struct {
	conn   *websocket.Conn
	url    string
	cfg    transportConfig
	logger *slog.Logger

	send    chan []byte
	inbound chan []byte
	readErr error // set before inbound is closed

	closeOnce   sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string

	done chan struct{} // closed when the write pump has exited
}

func newTransport(conn *websocket.Conn, requestURL string, cfg transportConfig, logger *slog.Logger) *wsTransport {
	t := &wsTransport{
		conn:    conn,
		url:     requestURL,
		cfg:     cfg,
		logger:  logger,
		send:    make(chan []byte, cfg.SendBuffer),
		inbound: make(chan []byte),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

// Receive implements session.Transport.
func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-t.inbound:
		if !ok {
			return nil, t.readErr
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements session.Transport. It never blocks.
func (t *wsTransport) Send(payload []byte) error {
	select {
	case <-t.closing:
		return ErrClosed
	default:
	}

	select {
	case t.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close implements session.Transport. Frames queued before Close are
// written ahead of the close frame.
func (t *wsTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.closeCode = code
		t.closeReason = reason
		close(t.closing)
	})
	return nil
}

// RequestURL implements session.Transport.
func (t *wsTransport) RequestURL() string {
	return t.url
}

// Done is closed once the connection is fully torn down.
func (t *wsTransport) Done() <-chan struct{} {
	return t.done
}

func (t *wsTransport) readPump() {
	defer close(t.inbound)

	t.conn.SetReadLimit(t.cfg.ReadLimit)
	t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				t.logger.Debug("client read error", "err", err)
			}
			t.readErr = io.EOF
			return
		}
		// Any inbound frame proves liveness.
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongTimeout))

		select {
		case t.inbound <- data:
		case <-t.closing:
			t.readErr = io.EOF
			return
		}
	}
}

func (t *wsTransport) writePump() {
	pingEvery := t.cfg.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		close(t.done)
	}()

	for {
		select {
		case payload := <-t.send:
			if err := t.write(websocket.TextMessage, payload); err != nil {
				t.abort(err)
				return
			}

		case <-ticker.C:
			if err := t.write(websocket.PingMessage, nil); err != nil {
				t.abort(err)
				return
			}

		case <-t.closing:
			t.drain()
			msg := websocket.FormatCloseMessage(t.closeCode, t.closeReason)
			t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteTimeout))
			return
		}
	}
}

// drain writes whatever was queued before Close.
func (t *wsTransport) drain() {
	for {
		select {
		case payload := <-t.send:
			if err := t.write(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(messageType int, payload []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(messageType, payload)
}

// abort marks the transport closed after a write failure so later sends
// fail fast and the reader unblocks.
func (t *wsTransport) abort(err error) {
	t.logger.Debug("client write failed", "err", err)
	t.Close(websocket.CloseAbnormalClosure, "")
}
