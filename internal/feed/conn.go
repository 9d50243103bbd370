// Package feed maintains the streaming market-data connection to the
// exchange. It owns one websocket subscription set (trade, orderBook10,
// instrument, position), survives disconnects with capped exponential
// backoff, and exposes the latest consistent MarketSnapshot under a single
// lock.
package feed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/selimacar/trendbot/internal/domain"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	writeWait     = 10 * time.Second
	pingCheckTick = 2 * time.Second
)

// Config holds feed connection parameters.
type Config struct {
	// URL is the realtime websocket endpoint,
	// e.g. "wss://ws.bitmex.com/realtime".
	URL       string
	Symbol    string
	APIKey    string
	APISecret string

	// TradeBuffer bounds the trade ring (default 1000).
	TradeBuffer int
	// PingIdle sends a keep-alive ping when no outbound traffic occurred
	// for this long (default 10s).
	PingIdle time.Duration
	// InboundTimeout treats the connection as silently failed when nothing
	// arrives for this long (default 30s).
	InboundTimeout time.Duration
	// ReconnectBase is the backoff unit: delay = base x attempt (default 5s).
	ReconnectBase time.Duration
	// MaxReconnects caps reconnection attempts before the failure is
	// surfaced as fatal (default 5).
	MaxReconnects int
	DialTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.TradeBuffer <= 0 {
		c.TradeBuffer = 1000
	}
	if c.PingIdle <= 0 {
		c.PingIdle = 10 * time.Second
	}
	if c.InboundTimeout <= 0 {
		c.InboundTimeout = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
}

// FatalHandler receives the error when reconnect attempts are exhausted.
type FatalHandler func(err error)

// wsConn is the subset of *websocket.Conn the feed uses; injectable in tests.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn maintains the streaming connection and the market snapshot.
type Conn struct {
	cfg     Config
	logger  *slog.Logger
	onFatal FatalHandler

	// dial is swapped out in tests.
	dial func(ctx context.Context) (wsConn, error)

	mu           sync.Mutex // guards ws, state, attempts, gen
	ws           wsConn
	state        State
	attempts     int
	gen          chan struct{} // closed when the current connection retires
	closed       bool
	lastOutbound time.Time

	snapMu    sync.Mutex // guards everything below
	bids      map[float64]float64
	asks      map[float64]float64
	trades    *tradeRing
	ticker    domain.Ticker
	positions []domain.Position
	snapTime  time.Time

	handlers map[string]func(json.RawMessage) error
}

// New creates a Conn. onFatal may be nil; it is invoked (once per
// exhaustion) when the reconnect cap is exceeded.
func New(cfg Config, onFatal FatalHandler, logger *slog.Logger) *Conn {
	cfg.applyDefaults()
	c := &Conn{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "feed")),
		onFatal: onFatal,
		bids:    make(map[float64]float64),
		asks:    make(map[float64]float64),
		trades:  newTradeRing(cfg.TradeBuffer),
	}
	c.dial = c.dialWebsocket
	c.handlers = map[string]func(json.RawMessage) error{
		"trade":       c.handleTrade,
		"orderBook10": c.handleOrderbook,
		"instrument":  c.handleInstrument,
		"position":    c.handlePosition,
	}
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BackoffDelay returns the reconnect delay for the given 1-based attempt.
func (c *Conn) BackoffDelay(attempt int) time.Duration {
	return c.cfg.ReconnectBase * time.Duration(attempt)
}

// Connect establishes the websocket connection and subscribes to the fixed
// channel set. A dial failure does not fail the caller; it schedules a
// reconnect instead. Calling Connect after a fatal-connectivity stop resets
// the attempt counter and resumes reconnection.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	c.state = StateConnecting
	c.attempts = 0
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		c.logger.Warn("initial connect failed, scheduling reconnect",
			slog.String("error", err.Error()),
		)
		go c.reconnectLoop()
	}
	return nil
}

// Run connects and then blocks until ctx is cancelled, closing the
// connection on the way out.
func (c *Conn) Run(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Close()
	return ctx.Err()
}

// Close shuts the connection down permanently. No reconnect is attempted
// afterwards. Safe to call multiple times.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	ws := c.ws
	c.ws = nil
	c.retireLocked()
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = ws.Close()
	}
	c.logger.Info("feed closed")
}

// Snapshot returns a consistent copy of the latest market state. It never
// fails; before any data has arrived it returns a zeroed snapshot.
func (c *Conn) Snapshot() domain.MarketSnapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	snap := domain.MarketSnapshot{
		Bids:      make([]domain.PriceLevel, 0, len(c.bids)),
		Asks:      make([]domain.PriceLevel, 0, len(c.asks)),
		Trades:    c.trades.slice(),
		Ticker:    c.ticker,
		Positions: append([]domain.Position(nil), c.positions...),
		Timestamp: c.snapTime,
	}
	for price, size := range c.bids {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: price, Size: size})
	}
	for price, size := range c.asks {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

// --------------------------------------------------------------------------
// Connection management
// --------------------------------------------------------------------------

// establish dials, subscribes, and starts the read and ping loops.
func (c *Conn) establish(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	ws, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return domain.ErrClosed
	}
	c.retireLocked()
	gen := make(chan struct{})
	c.gen = gen
	c.ws = ws
	c.state = StateStreaming
	c.attempts = 0
	c.lastOutbound = time.Now()
	c.mu.Unlock()

	if err := c.subscribe(ws); err != nil {
		_ = ws.Close()
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	go c.readLoop(ws, gen)
	go c.pingLoop(ws, gen)

	c.logger.Info("feed connected", slog.String("symbol", c.cfg.Symbol))
	return nil
}

// retireLocked signals the previous connection's loops to stop. Caller
// holds c.mu.
func (c *Conn) retireLocked() {
	if c.gen != nil {
		close(c.gen)
		c.gen = nil
	}
}

func (c *Conn) dialWebsocket(ctx context.Context) (wsConn, error) {
	endpoint := c.cfg.URL
	if c.cfg.APIKey != "" {
		expires := time.Now().Add(10 * time.Second).Unix()
		q := url.Values{
			"api-key":       {c.cfg.APIKey},
			"api-expires":   {strconv.FormatInt(expires, 10)},
			"api-signature": {wsSignature(c.cfg.APISecret, expires)},
		}
		endpoint += "?" + q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: dial: %w", err)
	}
	return ws, nil
}

// wsSignature is HMAC_SHA256(secret, "GET/realtime" + expires) in hex.
func wsSignature(secret string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// subscribe sends the fixed subscription list for the configured symbol.
// It runs on every successful (re)connect.
func (c *Conn) subscribe(ws wsConn) error {
	cmd := wsCommand{
		Op: "subscribe",
		Args: []string{
			"trade:" + c.cfg.Symbol,
			"orderBook10:" + c.cfg.Symbol,
			"instrument:" + c.cfg.Symbol,
			"position",
		},
	}
	return c.write(ws, cmd)
}

func (c *Conn) write(ws wsConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastOutbound = time.Now()
	c.mu.Unlock()
	return nil
}

// readLoop reads frames until the connection dies, then hands over to the
// reconnect loop. Absence of inbound traffic beyond InboundTimeout trips
// the read deadline and is treated as a silent failure.
func (c *Conn) readLoop(ws wsConn, gen <-chan struct{}) {
	for {
		select {
		case <-gen:
			return
		default:
		}

		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.InboundTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-gen:
				return
			default:
			}
			c.logger.Warn("feed read failed, reconnecting",
				slog.String("error", err.Error()),
			)
			_ = ws.Close()
			c.reconnectLoop()
			return
		}

		c.handleMessage(raw)
	}
}

// pingLoop sends a keep-alive "ping" whenever no outbound traffic occurred
// within PingIdle.
func (c *Conn) pingLoop(ws wsConn, gen <-chan struct{}) {
	ticker := time.NewTicker(pingCheckTick)
	defer ticker.Stop()

	for {
		select {
		case <-gen:
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastOutbound)
			c.mu.Unlock()
			if idle < c.cfg.PingIdle {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return // read loop will notice the dead connection
			}
			c.mu.Lock()
			c.lastOutbound = time.Now()
			c.mu.Unlock()
		}
	}
}

// reconnectLoop retries with delay = base x attempt up to the configured
// cap. Exceeding the cap surfaces a fatal connectivity alert and suspends
// reconnection until Connect is called again.
func (c *Conn) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		if attempt > c.cfg.MaxReconnects {
			c.state = StateDisconnected
			c.mu.Unlock()
			c.logger.Error("reconnect attempts exhausted",
				slog.Int("attempts", c.cfg.MaxReconnects),
			)
			if c.onFatal != nil {
				c.onFatal(domain.ErrReconnectExhausted)
			}
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()

		delay := c.BackoffDelay(attempt)
		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		err := c.establish(context.Background())
		if err == nil {
			return
		}
		c.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
}

// --------------------------------------------------------------------------
// Message handling
// --------------------------------------------------------------------------

// handleMessage decodes one inbound frame and routes it by table name.
// Parse errors are logged and swallowed; they never propagate.
func (c *Conn) handleMessage(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Debug("undecodable frame dropped", slog.Int("bytes", len(raw)))
		return
	}
	if f.Table == "" {
		return // welcome banner, subscribe ack, or pong
	}

	handler, ok := c.handlers[f.Table]
	if !ok {
		return
	}
	if err := handler(f.Data); err != nil {
		c.logger.Warn("frame handling failed",
			slog.String("table", f.Table),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Conn) handleTrade(data json.RawMessage) error {
	rows, err := decodeRows[tradeRow](data)
	if err != nil {
		return err
	}

	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	for _, r := range rows {
		c.trades.push(domain.PublicTrade{
			Timestamp: r.Timestamp,
			Side:      r.Side,
			Price:     r.Price,
			Size:      r.Size,
			MatchID:   r.TrdMatchID,
		})
	}
	c.snapTime = time.Now().UTC()
	return nil
}

func (c *Conn) handleOrderbook(data json.RawMessage) error {
	rows, err := decodeRows[bookRow](data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	row := rows[len(rows)-1] // most recent book

	bids := make(map[float64]float64, len(row.Bids))
	for _, l := range row.Bids {
		if l[1] == 0 {
			delete(bids, l[0]) // zero size evicts the level
			continue
		}
		bids[l[0]] = l[1]
	}
	asks := make(map[float64]float64, len(row.Asks))
	for _, l := range row.Asks {
		if l[1] == 0 {
			delete(asks, l[0])
			continue
		}
		asks[l[0]] = l[1]
	}

	// Atomic swap: readers never see a half-applied frame.
	c.snapMu.Lock()
	c.bids = bids
	c.asks = asks
	c.snapTime = time.Now().UTC()
	c.snapMu.Unlock()
	return nil
}

func (c *Conn) handleInstrument(data json.RawMessage) error {
	rows, err := decodeRows[instrumentRow](data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	row := rows[len(rows)-1]

	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	// Partial instrument updates omit unchanged fields; keep prior values.
	if row.LastPrice > 0 {
		c.ticker.LastPrice = row.LastPrice
	}
	if row.MarkPrice > 0 {
		c.ticker.MarkPrice = row.MarkPrice
	}
	if row.HighPrice > 0 {
		c.ticker.HighPrice = row.HighPrice
	}
	if row.LowPrice > 0 {
		c.ticker.LowPrice = row.LowPrice
	}
	if row.Volume24h > 0 {
		c.ticker.Volume24h = row.Volume24h
	}
	c.ticker.Timestamp = time.Now().UTC()
	c.snapTime = c.ticker.Timestamp
	return nil
}

func (c *Conn) handlePosition(data json.RawMessage) error {
	rows, err := decodeRows[positionRow](data)
	if err != nil {
		return err
	}

	positions := make([]domain.Position, 0, len(rows))
	now := time.Now().UTC()
	for _, r := range rows {
		side := domain.OrderSideBuy
		size := r.CurrentQty
		if size < 0 {
			side = domain.OrderSideSell
			size = -size
		}
		positions = append(positions, domain.Position{
			Symbol:           r.Symbol,
			Side:             side,
			Size:             size,
			EntryPrice:       r.AvgEntryPrice,
			MarkPrice:        r.MarkPrice,
			LiquidationPrice: r.LiquidationPrice,
			Leverage:         r.Leverage,
			UnrealizedPnL:    r.UnrealisedPnl / 1e8,
			Timestamp:        now,
		})
	}

	c.snapMu.Lock()
	c.positions = positions
	c.snapTime = now
	c.snapMu.Unlock()
	return nil
}
