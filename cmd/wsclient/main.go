// wsclient connects to a running gateway, subscribes to symbols and prints
// every frame it receives.
// Usage: go run ./cmd/wsclient --symbols AAPL,MSFT --sign-key dev/private.pem
//
// A token is taken from --token, or signed locally with --sign-key for a
// gateway configured with the matching auth.public_key_path. Neither is
// needed when the gateway runs with auth disabled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/price-alerts/internal/auth"
	"github.com/rickgao/price-alerts/internal/model"
	"github.com/rickgao/price-alerts/internal/protocol"
)

func main() {
	gatewayURL := flag.String("url", "ws://localhost:3000/ws", "gateway WebSocket URL")
	token := flag.String("token", "", "bearer token")
	signKey := flag.String("sign-key", "", "RSA private key PEM used to sign a dev token")
	subject := flag.String("subject", "wsclient", "subject of a signed dev token")
	issuer := flag.String("issuer", "", "issuer of a signed dev token")
	audience := flag.String("audience", "", "audience of a signed dev token")
	symbols := flag.String("symbols", "AAPL", "comma-separated symbols to subscribe to")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *token == "" && *signKey != "" {
		key, err := auth.LoadPrivateKey(*signKey)
		if err != nil {
			logger.Error("failed to load signing key", "error", err)
			os.Exit(1)
		}
		*token, err = auth.DevToken{
			Subject:  *subject,
			Issuer:   *issuer,
			Audience: *audience,
			TTL:      time.Hour,
		}.Sign(key)
		if err != nil {
			logger.Error("failed to sign token", "error", err)
			os.Exit(1)
		}
	}

	target, err := withToken(*gatewayURL, *token)
	if err != nil {
		logger.Error("invalid gateway url", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, target, nil)
	dialCancel()
	if err != nil {
		logger.Error("failed to connect", "url", *gatewayURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *gatewayURL)

	for _, raw := range strings.Split(*symbols, ",") {
		sym := model.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		msg := protocol.ClientMessage{Type: protocol.TypeSubscribe, Symbol: sym}
		if err := conn.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
			logger.Error("subscribe failed", "symbol", sym, "error", err)
			os.Exit(1)
		}
	}

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- data
		}
	}()

	counts := make(map[protocol.ServerFrameType]int)
	for {
		select {
		case data := <-frames:
			printFrame(data, *verbose, counts, logger)

		case err := <-readErr:
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				logger.Info("gateway closed connection", "code", ce.Code, "reason", ce.Text)
			} else {
				logger.Error("read failed", "error", err)
			}
			logger.Info("frame totals", "counts", counts)
			return

		case <-ctx.Done():
			logger.Info("shutting down", "counts", counts)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func printFrame(data []byte, verbose bool, counts map[protocol.ServerFrameType]int, logger *slog.Logger) {
	frame, err := protocol.ParseServerFrame(data)
	if err != nil {
		logger.Warn("unparseable frame", "error", err, "raw", string(data))
		return
	}
	counts[frame.Type]++

	if verbose {
		fmt.Printf("[%s] %s\n", frame.Type, data)
		return
	}

	switch frame.Type {
	case protocol.FrameTick:
		fmt.Printf("[TICK]  %-8s %12.4f  ts=%d\n", frame.Symbol, frame.Price, frame.TS)
	case protocol.FrameQuote:
		fmt.Printf("[QUOTE] %-8s %12.4f  prev=%.4f  source=%s\n", frame.Symbol, frame.Price, frame.PrevClose, frame.Source)
	case protocol.FrameSubscribed, protocol.FrameUnsubscribed:
		fmt.Printf("[%s] %s\n", strings.ToUpper(string(frame.Type)), frame.Symbol)
	case protocol.FrameError:
		fmt.Printf("[ERROR] %s\n", frame.Message)
	}
}
