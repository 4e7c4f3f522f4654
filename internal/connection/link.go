package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/price-alerts/internal/model"
)

// Link owns the single streaming connection to the market-data provider.
//
// Subscription changes are recorded in a desired set and applied by the run
// loop, which is the only goroutine that writes to the socket. On every
// connect the full desired set is re-sent because the provider keeps no
// state across connections.
type Link struct {
	cfg       LinkConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	mu      sync.Mutex
	state   State
	want    map[model.Symbol]struct{}
	have    map[model.Symbol]struct{} // sent on the current connection
	touched map[model.Symbol]bool     // Ensure* calls while not connected; nil while connected
	source  DesiredSource
	handler TickHandler
	started bool

	kick chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connects    atomic.Int64
	disconnects atomic.Int64
	ticks       atomic.Int64
	discarded   atomic.Int64
}

// NewLink creates a new upstream link. Call Start to begin connecting.
func NewLink(cfg LinkConfig, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultLinkConfig().ReconnectDelay
	}
	return &Link{
		cfg:       cfg,
		logger:    logger.With("component", "upstream"),
		newClient: NewClient,
		want:      make(map[model.Symbol]struct{}),
		have:      make(map[model.Symbol]struct{}),
		touched:   make(map[model.Symbol]bool),
		kick:      make(chan struct{}, 1),
	}
}

// SetDesiredSource sets the authoritative desired set consulted on connect.
func (l *Link) SetDesiredSource(src DesiredSource) {
	l.mu.Lock()
	l.source = src
	l.mu.Unlock()
}

// OnTick registers the tick callback. It replaces any previous handler.
func (l *Link) OnTick(h TickHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Start begins connection attempts. Without an API key the link stays
// disconnected for its whole lifetime and Start returns nil.
func (l *Link) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("upstream link already started")
	}
	l.started = true
	l.mu.Unlock()

	l.ctx, l.cancel = context.WithCancel(ctx)

	if l.cfg.APIKey == "" {
		l.logger.Warn("provider api key missing, upstream link disabled; relying on quote polling")
		return nil
	}

	l.wg.Add(1)
	go l.run()

	l.logger.Info("upstream link started",
		"url", l.cfg.URL,
		"reconnect_delay", l.cfg.ReconnectDelay,
	)
	return nil
}

// Stop closes the connection and halts reconnection.
func (l *Link) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("upstream link stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureSubscribed requests that sym be streamed. Idempotent and non-blocking.
func (l *Link) EnsureSubscribed(sym model.Symbol) {
	l.mu.Lock()
	l.want[sym] = struct{}{}
	if l.touched != nil {
		l.touched[sym] = true
	}
	l.mu.Unlock()
	l.wake()
}

// EnsureUnsubscribed requests that sym stop streaming. Idempotent and non-blocking.
func (l *Link) EnsureUnsubscribed(sym model.Symbol) {
	l.mu.Lock()
	delete(l.want, sym)
	if l.touched != nil {
		l.touched[sym] = false
	}
	l.mu.Unlock()
	l.wake()
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns current link statistics.
func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	state, desired, subscribed := l.state, len(l.want), len(l.have)
	l.mu.Unlock()

	return LinkStats{
		State:       state.String(),
		Connects:    l.connects.Load(),
		Disconnects: l.disconnects.Load(),
		Ticks:       l.ticks.Load(),
		Discarded:   l.discarded.Load(),
		Desired:     desired,
		Subscribed:  subscribed,
	}
}

func (l *Link) wake() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	if s != StateConnected {
		l.have = make(map[model.Symbol]struct{})
		if l.touched == nil {
			l.touched = make(map[model.Symbol]bool)
		}
	}
	l.mu.Unlock()
}

// run is the connect/serve/reconnect loop.
func (l *Link) run() {
	defer l.wg.Done()
	defer l.setState(StateDisconnected)

	for {
		if l.ctx.Err() != nil {
			return
		}

		l.setState(StateConnecting)
		c, err := l.connect()
		if err != nil {
			l.setState(StateDisconnected)
			l.logger.Warn("upstream connect failed",
				"err", err,
				"retry_in", l.cfg.ReconnectDelay,
			)
		} else {
			l.connects.Add(1)
			err = l.serve(c)
			c.Close()
			l.setState(StateDisconnected)
			if l.ctx.Err() != nil {
				return
			}
			l.disconnects.Add(1)
			l.logger.Warn("upstream disconnected",
				"err", err,
				"retry_in", l.cfg.ReconnectDelay,
			)
		}

		select {
		case <-l.ctx.Done():
			return
		case <-time.After(l.cfg.ReconnectDelay):
		}
	}
}

func (l *Link) connect() (Client, error) {
	wsURL, err := l.streamURL()
	if err != nil {
		return nil, err
	}

	c := l.newClient(ClientConfig{
		URL:          wsURL,
		PingInterval: l.cfg.PingInterval,
		ReadTimeout:  l.cfg.ReadTimeout,
		WriteTimeout: l.cfg.WriteTimeout,
		BufferSize:   l.cfg.BufferSize,
	}, l.logger)

	if err := c.Connect(l.ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// streamURL appends the provider token to the configured URL.
func (l *Link) streamURL() (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("token", l.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// serve runs one connection until it fails or the link is stopped.
func (l *Link) serve(c Client) error {
	l.resync()

	l.mu.Lock()
	l.state = StateConnected
	l.have = make(map[model.Symbol]struct{})
	l.touched = nil
	l.mu.Unlock()

	l.logger.Info("upstream connected")

	if err := l.flush(c); err != nil {
		return err
	}

	for {
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case msg := <-c.Messages():
			l.handleMessage(msg)
		case err := <-c.Errors():
			return err
		case <-l.kick:
			if err := l.flush(c); err != nil {
				return err
			}
		}
	}
}

// resync rebuilds the desired set from the authoritative source. Ensure*
// calls recorded since the link left Connected, including any made while the
// snapshot was taken, keep their latest direction.
func (l *Link) resync() {
	l.mu.Lock()
	src := l.source
	l.mu.Unlock()
	if src == nil {
		return
	}

	// Outside l.mu: the source takes its own lock.
	snapshot := src.DesiredUpstreamSet()

	l.mu.Lock()
	defer l.mu.Unlock()

	want := make(map[model.Symbol]struct{}, len(snapshot)+len(l.touched))
	for _, sym := range snapshot {
		want[sym] = struct{}{}
	}
	for sym, subscribed := range l.touched {
		if subscribed {
			want[sym] = struct{}{}
		} else {
			delete(want, sym)
		}
	}
	l.want = want
}

// flush sends the difference between the desired and subscribed sets.
// Bookkeeping happens under the lock; writes happen outside it.
func (l *Link) flush(c Client) error {
	l.mu.Lock()
	var subs, unsubs []model.Symbol
	for sym := range l.want {
		if _, ok := l.have[sym]; !ok {
			subs = append(subs, sym)
			l.have[sym] = struct{}{}
		}
	}
	for sym := range l.have {
		if _, ok := l.want[sym]; !ok {
			unsubs = append(unsubs, sym)
			delete(l.have, sym)
		}
	}
	l.mu.Unlock()

	for _, sym := range model.SortSymbols(unsubs) {
		if err := l.send(c, CmdUnsubscribe, sym); err != nil {
			return err
		}
	}
	for _, sym := range model.SortSymbols(subs) {
		if err := l.send(c, CmdSubscribe, sym); err != nil {
			return err
		}
	}

	if len(subs) > 0 || len(unsubs) > 0 {
		l.logger.Debug("upstream subscriptions flushed",
			"subscribed", len(subs),
			"unsubscribed", len(unsubs),
		)
	}
	return nil
}

func (l *Link) send(c Client, typ string, sym model.Symbol) error {
	data, err := json.Marshal(Command{Type: typ, Symbol: string(sym)})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := c.Send(data); err != nil {
		return fmt.Errorf("send %s %s: %w", typ, sym, err)
	}
	return nil
}

func (l *Link) handleMessage(msg TimestampedMessage) {
	d := Decode(msg.Data, msg.ReceivedAt)

	switch d.Kind {
	case KindTrade:
		l.mu.Lock()
		h := l.handler
		l.mu.Unlock()

		l.ticks.Add(int64(len(d.Ticks)))
		if h == nil {
			return
		}
		for _, t := range d.Ticks {
			h.HandleTick(t)
		}
	case KindError:
		l.logger.Debug("provider error frame", "msg", d.Error)
	default:
		l.discarded.Add(1)
	}
}
