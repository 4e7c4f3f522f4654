package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/price-alerts/internal/alerts"
	"github.com/rickgao/price-alerts/internal/auth"
	"github.com/rickgao/price-alerts/internal/connection"
	"github.com/rickgao/price-alerts/internal/model"
	"github.com/rickgao/price-alerts/internal/protocol"
	"github.com/rickgao/price-alerts/internal/registry"
	"github.com/rickgao/price-alerts/internal/router"
	"github.com/rickgao/price-alerts/internal/session"
)

type noopUpstream struct{}

func (noopUpstream) EnsureSubscribed(model.Symbol)   {}
func (noopUpstream) EnsureUnsubscribed(model.Symbol) {}

type noopEvaluator struct{}

func (noopEvaluator) Submit(alerts.Observation) bool { return true }

type fakeLink struct{ state connection.State }

func (l fakeLink) State() connection.State     { return l.state }
func (l fakeLink) Stats() connection.LinkStats { return connection.LinkStats{} }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type bearerVerifier struct{ want string }

func (v bearerVerifier) VerifyBearer(_ context.Context, header string) (auth.Identity, error) {
	if header != "Bearer "+v.want {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{Subject: "svc"}, nil
}

type fixture struct {
	registry *registry.Registry
	router   *router.Router
	server   *Server
	http     *httptest.Server
}

func newFixture(t *testing.T, cfg Config, mutate func(*Deps)) *fixture {
	t.Helper()

	verifier, err := auth.NewVerifier(auth.Config{Disabled: true}, nil, nil)
	require.NoError(t, err)

	f := &fixture{}
	f.registry = registry.New(registry.DefaultConfig(), noopUpstream{}, nil, nil)
	f.router = router.New(f.registry, noopEvaluator{}, nil, nil)
	sessions := session.NewHandler(verifier, f.registry, f.router, nil)

	deps := Deps{
		Sessions: sessions,
		Registry: f.registry,
		Upstream: fakeLink{state: connection.StateConnected},
		Router:   f.router,
	}
	if mutate != nil {
		mutate(&deps)
	}

	f.server = New(cfg, deps, nil)
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.server.connCancel()
		f.http.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.ParseServerFrame(data)
	require.NoError(t, err)
	return frame
}

func TestWebSocket_SubscribeAndReceiveTick(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	conn := f.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","symbol":"aapl"}`)))
	ack := readFrame(t, conn)
	assert.Equal(t, protocol.FrameSubscribed, ack.Type)
	assert.Equal(t, "AAPL", ack.Symbol)

	f.router.HandleTick(model.Tick{Symbol: "AAPL", Price: 190.5, Timestamp: 1700000000000})

	tick := readFrame(t, conn)
	assert.Equal(t, protocol.FrameTick, tick.Type)
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.Equal(t, 190.5, tick.Price)
}

func TestWebSocket_InvalidJSONKeepsConnection(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	conn := f.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, protocol.MsgInvalidJSON, frame.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","symbol":"MSFT"}`)))
	assert.Equal(t, protocol.FrameSubscribed, readFrame(t, conn).Type)
}

func TestWebSocket_DisconnectReleasesInterest(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	conn := f.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","symbol":"TSLA"}`)))
	readFrame(t, conn)
	require.Len(t, f.registry.Interested("TSLA"), 1)

	conn.Close()

	require.Eventually(t, func() bool {
		return len(f.registry.Interested("TSLA")) == 0 && f.router.Attached() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_OriginCheck(t *testing.T) {
	f := newFixture(t, Config{AllowedOrigins: []string{"https://app.example.com"}}, nil)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := f.dial(t, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","symbol":"NVDA"}`)))
	assert.Equal(t, protocol.FrameSubscribed, readFrame(t, conn).Type)
}

func TestWebSocket_ShutdownSendsGoingAway(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	conn := f.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","symbol":"AMD"}`)))
	readFrame(t, conn)

	f.server.connCancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       func(*Deps)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "healthy",
			deps:       func(d *Deps) { d.Database = fakePinger{} },
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "upstream down is degraded",
			deps:       func(d *Deps) { d.Upstream = fakeLink{state: connection.StateConnecting} },
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name:       "database down is unhealthy",
			deps:       func(d *Deps) { d.Database = fakePinger{err: errors.New("refused")} },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{}, tt.deps)

			resp, err := http.Get(f.http.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			var body healthResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Contains(t, body.Components, "registry")
			assert.Contains(t, body.Components, "sessions")
		})
	}
}

func TestDebugSubscriptions(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.registry.Register("c1")
	f.registry.AddClientInterest("c1", "AAPL")

	resp, err := http.Get(f.http.URL + "/debug/subscriptions")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap registry.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Clients)
	assert.Equal(t, []model.Symbol{"AAPL"}, snap.Upstream)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) { d.Internal = bearerVerifier{want: "secret"} })

	post := func(header string) int {
		req, err := http.NewRequest(http.MethodPost, f.http.URL+"/internal/alerts/refresh", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("Bearer wrong"))
	assert.Equal(t, http.StatusAccepted, post("Bearer secret"))
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	verifier, err := auth.NewVerifier(auth.Config{Disabled: true}, nil, nil)
	require.NoError(t, err)
	reg := registry.New(registry.DefaultConfig(), noopUpstream{}, nil, nil)
	rt := router.New(reg, noopEvaluator{}, nil, nil)

	s := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, Deps{
		Sessions: session.NewHandler(verifier, reg, rt, nil),
		Registry: reg,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
