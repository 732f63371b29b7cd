// Package feed subscribes to a marketplace's real-time order feed over
// websocket and enqueues every received order for intake validation. The
// feed is purely an ingestion surface: all validation happens in the
// pipeline workers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mintlake/orderflow/internal/crypto"
	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/ingest"
)

const (
	handshakeTimeout = 15 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	reconnectDelay   = 2 * time.Second
)

// envelope is one message on the marketplace order feed.
type envelope struct {
	Event  string          `json:"event"`
	Kind   string          `json:"kind"`
	Order  json.RawMessage `json:"order"`
	Source string          `json:"source"`
	APIKey string          `json:"apiKey"`
}

// Feed is a websocket subscriber to a marketplace order feed. It reconnects
// with backoff on disconnect and keeps the connection alive with pings.
type Feed struct {
	wsURL string
	kinds []string
	auth  *crypto.HMACAuth
	queue domain.JobQueue

	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Feed subscribing to the given protocol kinds. auth may be
// nil for unauthenticated feeds.
func New(wsURL string, kinds []string, auth *crypto.HMACAuth, queue domain.JobQueue, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:  wsURL,
		kinds:  kinds,
		auth:   auth,
		queue:  queue,
		logger: logger.With(slog.String("component", "order_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects and consumes the feed until the context is cancelled,
// reconnecting with backoff on disconnect.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("order feed disconnected, reconnecting", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	header := http.Header{}
	if f.auth != nil {
		for k, v := range f.auth.FeedHeaders(http.MethodGet, "/subscribe") {
			header.Set(k, v)
		}
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("order feed subscribed", slog.Int("kinds", len(f.kinds)))

	// Close the connection when the context ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
	}()
	go f.pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, message)
	}
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	cmd := struct {
		Type  string   `json:"type"`
		Kinds []string `json:"kinds"`
	}{Type: "subscribe", Kinds: f.kinds}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (f *Feed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage enqueues one received order for validation. Malformed
// envelopes are logged and dropped; the feed never blocks on them.
func (f *Feed) handleMessage(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		f.logger.Warn("malformed feed message", slog.String("error", err.Error()))
		return
	}
	if env.Event != "order-created" || len(env.Order) == 0 {
		return
	}

	job, err := ingest.NewValidateOrderJob(
		ingest.OrderInfo{
			Kind: env.Kind,
			Raw:  env.Order,
			Metadata: ingest.Metadata{
				Source: env.Source,
				APIKey: env.APIKey,
			},
		},
		ingest.SaveOptions{
			ValidateBidValue: true,
			IngestMethod:     domain.IngestMethodWebsocket,
		},
	)
	if err != nil {
		f.logger.Warn("feed job build failed", slog.String("error", err.Error()))
		return
	}

	if err := f.queue.Enqueue(ctx, job, 0); err != nil {
		f.logger.Error("feed enqueue failed", slog.String("error", err.Error()))
	}
}
