package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

const (
	// DefaultWSURL is the production websocket endpoint.
	DefaultWSURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"

	wsWriteWait         = 10 * time.Second
	wsPongWait          = 30 * time.Second
	wsPingPeriod        = (wsPongWait * 9) / 10
	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// Signer adds authentication headers for a request.
type Signer interface {
	Sign(h http.Header, method, path string) error
}

// WSClient streams orderbook snapshots and deltas into a QuoteBook.
type WSClient struct {
	wsURL  string
	signer Signer
	book   *QuoteBook
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Tracked subscriptions for reconnection.
	subscribed []string
	cmdID      int64

	handlerMu sync.RWMutex
	handlers  []func(domain.Orderbook)

	done chan struct{}
}

// NewWSClient creates a websocket client that writes into book. signer may
// be nil for unauthenticated endpoints.
func NewWSClient(wsURL string, signer Signer, book *QuoteBook, logger *slog.Logger) *WSClient {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		wsURL:  wsURL,
		signer: signer,
		book:   book,
		logger: logger.With(slog.String("component", "kalshi_ws")),
		done:   make(chan struct{}),
	}
}

// Book returns the quote book fed by this client.
func (w *WSClient) Book() *QuoteBook { return w.book }

// Connect dials the websocket endpoint and restores tracked subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("kalshi/ws: client is closed")
	}

	header := http.Header{}
	if w.signer != nil {
		u, err := url.Parse(w.wsURL)
		if err != nil {
			return fmt.Errorf("kalshi/ws: parse url: %w", err)
		}
		if err := w.signer.Sign(header, http.MethodGet, u.Path); err != nil {
			return fmt.Errorf("kalshi/ws: sign handshake: %w", err)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	w.conn = conn

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	if len(w.subscribed) > 0 {
		if err := w.sendSubscribe(w.subscribed); err != nil {
			return fmt.Errorf("kalshi/ws: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe subscribes to orderbook updates for tickers not yet tracked.
func (w *WSClient) Subscribe(ctx context.Context, tickers []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("kalshi/ws: not connected: %w", domain.ErrWSDisconnect)
	}

	existing := make(map[string]struct{}, len(w.subscribed))
	for _, t := range w.subscribed {
		existing[t] = struct{}{}
	}
	var fresh []string
	for _, t := range tickers {
		if _, ok := existing[t]; !ok {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := w.sendSubscribe(fresh); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	w.subscribed = append(w.subscribed, fresh...)
	return nil
}

// OnOrderbook registers a handler called with the updated book after every
// snapshot or delta.
func (w *WSClient) OnOrderbook(handler func(domain.Orderbook)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the websocket connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendSubscribe sends a subscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(tickers []string) error {
	w.cmdID++
	data, err := json.Marshal(wsCommand{
		ID:  w.cmdID,
		Cmd: "subscribe",
		Params: wsSubscribeArgs{
			Channels: []string{"orderbook_delta"},
			Tickers:  tickers,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn == conn
			w.mu.RUnlock()
			if !current {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw websocket message and applies it to the book.
func (w *WSClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	var ticker string
	switch env.Type {
	case "orderbook_snapshot":
		var snap wsSnapshot
		if err := json.Unmarshal(env.Msg, &snap); err != nil {
			w.logger.Warn("bad orderbook snapshot", slog.String("error", err.Error()))
			return
		}
		book := Orderbook{Yes: snap.Yes, No: snap.No, YesDollars: snap.YesDollars, NoDollars: snap.NoDollars}.
			ToDomain(snap.Ticker, time.Now())
		w.book.ApplySnapshot(snap.Ticker, book.YesBids, book.NoBids, book.Timestamp)
		ticker = snap.Ticker
	case "orderbook_delta":
		var d wsDelta
		if err := json.Unmarshal(env.Msg, &d); err != nil {
			w.logger.Warn("bad orderbook delta", slog.String("error", err.Error()))
			return
		}
		p := centsToDollars(d.Price)
		if d.PriceDollars != "" {
			if v, err := decimal.NewFromString(d.PriceDollars); err == nil {
				p = v.InexactFloat64()
			}
		}
		w.book.ApplyDelta(d.Ticker, domain.Side(d.Side), p, d.Delta, time.Now())
		ticker = d.Ticker
	case "error":
		w.logger.Warn("websocket error message", slog.String("msg", string(env.Msg)))
		return
	default:
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	if book, ok := w.book.Orderbook(ticker); ok {
		for _, h := range handlers {
			h(book)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. The
// book is cleared first; resubscribing delivers fresh snapshots.
func (w *WSClient) reconnect() {
	w.book.Reset()
	delay := wsReconnectDelay

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			w.logger.Info("websocket reconnected")
			return
		}
		w.logger.Warn("websocket reconnect failed", slog.String("error", err.Error()), slog.Duration("retry_in", delay))

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
