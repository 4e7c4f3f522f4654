package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket session with the provider. A Client is used for a
// single connection; the Link dials a fresh one after every failure.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages delivers inbound frames stamped with their receipt time.
	Messages() <-chan TimestampedMessage

	// Errors delivers at most one error, after which the client is dead.
	Errors() <-chan error
}

type providerConn struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	inbound chan TimestampedMessage
	failed  chan error
	stop    chan struct{}

	closeOnce sync.Once
	live      atomic.Bool
	lastSeen  atomic.Int64 // unix nanos of the last inbound frame of any kind
	dropped   atomic.Int64
}

// NewClient creates an unconnected Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	return &providerConn{
		cfg:     cfg,
		logger:  logger,
		inbound: make(chan TimestampedMessage, cfg.BufferSize),
		failed:  make(chan error, 1),
		stop:    make(chan struct{}),
	}
}

func (p *providerConn) Connect(ctx context.Context) error {
	select {
	case <-p.stop:
		return ErrAlreadyClosed
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return err
	}
	p.conn = conn
	p.seen()
	p.live.Store(true)

	conn.SetPingHandler(func(appData string) error {
		p.seen()
		return p.control(websocket.PongMessage, []byte(appData))
	})
	conn.SetPongHandler(func(string) error {
		p.seen()
		return nil
	})

	go p.pump()
	go p.keepalive()
	return nil
}

func (p *providerConn) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.live.Store(false)
		close(p.stop)
		if p.conn == nil {
			return
		}
		p.control(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = p.conn.Close()
		if n := p.dropped.Load(); n > 0 {
			p.logger.Warn("upstream frames dropped on full buffer", "count", n)
		}
	})
	return err
}

func (p *providerConn) Send(data []byte) error {
	if !p.live.Load() {
		return ErrNotConnected
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *providerConn) Messages() <-chan TimestampedMessage { return p.inbound }

func (p *providerConn) Errors() <-chan error { return p.failed }

func (p *providerConn) control(kind int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(kind, data, time.Now().Add(p.cfg.WriteTimeout))
}

func (p *providerConn) seen() {
	p.lastSeen.Store(time.Now().UnixNano())
}

// die reports err once unless Close already ran.
func (p *providerConn) die(err error) {
	select {
	case <-p.stop:
		return
	default:
	}
	p.live.Store(false)
	select {
	case p.failed <- err:
	default:
	}
}

func (p *providerConn) pump() {
	for {
		_, data, err := p.conn.ReadMessage()
		at := time.Now()
		if err != nil {
			p.die(err)
			return
		}
		p.seen()

		select {
		case p.inbound <- TimestampedMessage{Data: data, ReceivedAt: at}:
		case <-p.stop:
			return
		default:
			// Consumer is behind; never block the reader.
			p.dropped.Add(1)
		}
	}
}

// keepalive pings on an interval and fails the client when nothing at all
// has arrived within ReadTimeout.
func (p *providerConn) keepalive() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		if err := p.control(websocket.PingMessage, nil); err != nil {
			p.logger.Debug("upstream ping failed", "err", err)
		}

		idle := time.Since(time.Unix(0, p.lastSeen.Load()))
		if idle > p.cfg.ReadTimeout {
			p.logger.Warn("upstream silent, dropping connection", "idle", idle, "timeout", p.cfg.ReadTimeout)
			p.die(ErrStaleConnection)
			return
		}
	}
}
