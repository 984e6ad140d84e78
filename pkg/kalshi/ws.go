package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/faults"
)

const (
	// ProdWSURL is the production WebSocket endpoint.
	ProdWSURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"

	// DemoWSURL is the sandbox WebSocket endpoint.
	DemoWSURL = "wss://demo-api.kalshi.co/trade-api/ws/v2"

	// pingInterval is how often ping frames are sent.
	pingInterval = 10 * time.Second

	// readTimeout triggers reconnection when no frame arrives in time.
	readTimeout = 30 * time.Second

	// maxReconnectAttempts caps the exponential backoff loop.
	maxReconnectAttempts = 5
)

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("kalshi: websocket not connected")

	// ErrReconnectFailed is returned after the backoff loop is exhausted.
	ErrReconnectFailed = errors.New("kalshi: websocket reconnect attempts exhausted")
)

// Channel is a WebSocket subscription channel.
type Channel string

// Subscription channels.
const (
	ChannelTicker         Channel = "ticker"
	ChannelOrderbookDelta Channel = "orderbook_delta"
)

// WSMessage is a frame from the server. Msg is left raw; payload shape
// depends on Type.
type WSMessage struct {
	ID   int64           `json:"id,omitempty"`
	SID  int64           `json:"sid,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// TickerUpdate is the payload of a "ticker" message. Price prefers
// yes_price and falls back to last_price.
type TickerUpdate struct {
	MarketTicker string `json:"market_ticker"`
	YesPrice     *int   `json:"yes_price"`
	LastPrice    *int   `json:"last_price"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	Volume       int    `json:"volume"`
}

// Price returns the update's price in cents, preferring yes_price.
func (u *TickerUpdate) Price() (int, bool) {
	if u.YesPrice != nil {
		return *u.YesPrice, true
	}
	if u.LastPrice != nil {
		return *u.LastPrice, true
	}
	return 0, false
}

// subscribeCmd is the outbound subscribe frame.
type subscribeCmd struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params struct {
		Channels     []Channel `json:"channels"`
		MarketTicker string    `json:"market_ticker"`
	} `json:"params"`
}

// WSClient maintains an authenticated WebSocket connection with heartbeat,
// read-timeout detection, and subscription replay across reconnects.
type WSClient struct {
	wsURL  string
	apiKey string
	key    *SigningKey
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}

	msgID atomic.Int64

	// subs is the replay set: ticker -> channel. Owned by the client;
	// callers mutate it only through Subscribe/Unsubscribe.
	subsMu sync.Mutex
	subs   map[string]Channel

	onMessage  func(WSMessage)
	reconnects atomic.Int64
}

// NewWSClient creates a WebSocket client. The message handler runs on the
// read loop goroutine and must not block.
func NewWSClient(wsURL, apiKey string, key *SigningKey, logger zerolog.Logger, onMessage func(WSMessage)) *WSClient {
	if wsURL == "" {
		wsURL = ProdWSURL
	}
	return &WSClient{
		wsURL:     wsURL,
		apiKey:    apiKey,
		key:       key,
		logger:    logger,
		subs:      make(map[string]Channel),
		onMessage: onMessage,
	}
}

// Connect dials the server with signed handshake headers and starts the
// read and ping loops.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *WSClient) connectLocked(ctx context.Context) error {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return faults.Wrap(faults.ErrInput, "parse websocket url", err)
	}

	// The handshake is signed over the WebSocket path, not a REST path.
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature, err := c.key.Signature(timestamp, http.MethodGet, u.Path)
	if err != nil {
		return faults.Wrap(faults.ErrAuthFailure, "sign websocket handshake", err)
	}

	header := http.Header{}
	header.Set("KALSHI-ACCESS-KEY", c.apiKey)
	header.Set("KALSHI-ACCESS-TIMESTAMP", timestamp)
	header.Set("KALSHI-ACCESS-SIGNATURE", signature)
	header.Set("Content-Type", "application/json")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return faults.Wrap(faults.ErrConnection, "websocket dial", err)
	}

	c.conn = conn
	c.done = make(chan struct{})

	go c.readLoop(ctx, conn, c.done)
	go c.pingLoop(conn, c.done)

	return nil
}

// Close sends a close frame and tears the connection down.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	close(c.done)

	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected reports whether the connection is live.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Reconnects returns how many reconnections have occurred.
func (c *WSClient) Reconnects() int64 { return c.reconnects.Load() }

// Subscribe subscribes to a channel for one market ticker and records it
// for replay after reconnection.
func (c *WSClient) Subscribe(ctx context.Context, marketTicker string, channel Channel) error {
	if marketTicker == "" {
		return faults.New(faults.ErrInput, "empty market ticker")
	}

	if err := c.sendSubscribe(marketTicker, channel); err != nil {
		return err
	}

	c.subsMu.Lock()
	c.subs[marketTicker] = channel
	c.subsMu.Unlock()
	return nil
}

// Unsubscribe drops a ticker from the replay set. The server-side
// subscription lapses with the connection; tickers not in the replay set
// are simply never resubscribed.
func (c *WSClient) Unsubscribe(marketTicker string) {
	c.subsMu.Lock()
	delete(c.subs, marketTicker)
	c.subsMu.Unlock()
}

// Subscriptions returns a snapshot of the replay set.
func (c *WSClient) Subscriptions() map[string]Channel {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	out := make(map[string]Channel, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *WSClient) sendSubscribe(marketTicker string, channel Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	cmd := subscribeCmd{ID: c.msgID.Add(1), Cmd: "subscribe"}
	cmd.Params.Channels = []Channel{channel}
	cmd.Params.MarketTicker = marketTicker

	if err := c.conn.WriteJSON(cmd); err != nil {
		return faults.Wrap(faults.ErrConnection, "write subscribe", err)
	}
	return nil
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		// A read blocked past the timeout means the connection is dead.
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			select {
			case <-done:
				return
			default:
			}
			c.logger.Warn().Err(err).Msg("websocket read failed, reconnecting")
			c.reconnect(ctx)
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("unparseable websocket frame")
			continue
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			live := c.conn == conn
			if live {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Warn().Err(err).Msg("websocket ping failed")
					live = false
				}
			}
			c.mu.Unlock()
			if !live {
				return
			}
		}
	}
}

// reconnect tears the connection down and retries with 2^attempt second
// backoff, then replays every recorded subscription.
func (c *WSClient) reconnect(ctx context.Context) {
	c.mu.Lock()
	if c.conn != nil {
		close(c.done)
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := time.Duration(1<<uint(attempt)) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		err := c.connectLocked(ctx)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("websocket reconnect failed")
			continue
		}

		c.reconnects.Add(1)
		c.replaySubscriptions()
		return
	}

	c.logger.Error().Msg(ErrReconnectFailed.Error())
}

func (c *WSClient) replaySubscriptions() {
	for ticker, channel := range c.Subscriptions() {
		if err := c.sendSubscribe(ticker, channel); err != nil {
			c.logger.Warn().Err(err).Str("ticker", ticker).Msg("resubscribe failed")
		}
	}
}
