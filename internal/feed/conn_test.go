package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selimacar/trendbot/internal/domain"
)

// fakeWS is an in-memory wsConn. Inbound frames are fed through a channel;
// outbound writes are recorded.
type fakeWS struct {
	mu      sync.Mutex
	writes  [][]byte
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return websocket.TextMessage, msg, nil
	case <-f.done:
		return 0, nil, errors.New("fake ws closed")
	}
}

func (f *fakeWS) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.done:
		return errors.New("fake ws closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeWS) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeWS) sentCommands() []wsCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cmds []wsCommand
	for _, w := range f.writes {
		var cmd wsCommand
		if json.Unmarshal(w, &cmd) == nil && cmd.Op != "" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestConn(t *testing.T, cfg Config, onFatal FatalHandler) *Conn {
	t.Helper()
	if cfg.Symbol == "" {
		cfg.Symbol = "XBTUSD"
	}
	return New(cfg, onFatal, testLogger())
}

func TestBackoffDelayLinear(t *testing.T) {
	c := newTestConn(t, Config{}, nil)

	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		20 * time.Second,
		25 * time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, c.BackoffDelay(i+1), "attempt %d", i+1)
	}
}

func TestReconnectExhaustionSurfacesFatal(t *testing.T) {
	fatal := make(chan error, 1)
	c := newTestConn(t, Config{
		ReconnectBase: time.Millisecond,
		MaxReconnects: 3,
	}, func(err error) { fatal <- err })

	dials := 0
	c.dial = func(context.Context) (wsConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	require.NoError(t, c.Connect(context.Background()))

	select {
	case err := <-fatal:
		require.ErrorIs(t, err, domain.ErrReconnectExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("fatal handler never invoked")
	}

	// Initial dial plus each capped reconnect attempt.
	assert.Equal(t, 4, dials)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectSubscribesAndStreams(t *testing.T) {
	ws := newFakeWS()
	c := newTestConn(t, Config{}, nil)
	c.dial = func(context.Context) (wsConn, error) { return ws, nil }

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, StateStreaming, c.State())

	cmds := ws.sentCommands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "subscribe", cmds[0].Op)
	assert.Equal(t, []string{
		"trade:XBTUSD",
		"orderBook10:XBTUSD",
		"instrument:XBTUSD",
		"position",
	}, cmds[0].Args)
}

func TestConnectAfterCloseReturnsClosed(t *testing.T) {
	c := newTestConn(t, Config{}, nil)
	c.Close()
	require.ErrorIs(t, c.Connect(context.Background()), domain.ErrClosed)
}

func TestReadLoopRoutesFrames(t *testing.T) {
	ws := newFakeWS()
	c := newTestConn(t, Config{}, nil)
	c.dial = func(context.Context) (wsConn, error) { return ws, nil }

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ws.inbound <- []byte(`{"table":"orderBook10","action":"update","data":[
		{"symbol":"XBTUSD","bids":[[50000,100],[49990,50]],"asks":[[50010,80],[50020,40]]}
	]}`)

	require.Eventually(t, func() bool {
		return len(c.Snapshot().Bids) == 2
	}, 2*time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, 50000.0, snap.BestBid().Price)
	assert.Equal(t, 50010.0, snap.BestAsk().Price)
}

func TestHandleOrderbookSortsAndEvicts(t *testing.T) {
	c := newTestConn(t, Config{}, nil)

	require.NoError(t, c.handleOrderbook(json.RawMessage(`[
		{"symbol":"XBTUSD","bids":[[49990,50],[50000,100],[49980,0]],"asks":[[50020,40],[50010,80]]}
	]`)))

	snap := c.Snapshot()
	require.Len(t, snap.Bids, 2, "zero-size level must be evicted")
	require.Len(t, snap.Asks, 2)

	// Bids best-first descending, asks best-first ascending.
	assert.Equal(t, 50000.0, snap.Bids[0].Price)
	assert.Equal(t, 49990.0, snap.Bids[1].Price)
	assert.Equal(t, 50010.0, snap.Asks[0].Price)
	assert.Equal(t, 50020.0, snap.Asks[1].Price)
}

func TestHandleOrderbookReplacesWholeBook(t *testing.T) {
	c := newTestConn(t, Config{}, nil)

	require.NoError(t, c.handleOrderbook(json.RawMessage(`[
		{"symbol":"XBTUSD","bids":[[50000,100]],"asks":[[50010,80]]}
	]`)))
	require.NoError(t, c.handleOrderbook(json.RawMessage(`[
		{"symbol":"XBTUSD","bids":[[49900,10]],"asks":[[49910,20]]}
	]`)))

	snap := c.Snapshot()
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 49900.0, snap.Bids[0].Price, "stale levels must not survive a book frame")
}

func TestHandleInstrumentPartialMerge(t *testing.T) {
	c := newTestConn(t, Config{}, nil)

	require.NoError(t, c.handleInstrument(json.RawMessage(`[
		{"symbol":"XBTUSD","lastPrice":50000,"markPrice":50005,"volume24h":1200000}
	]`)))
	require.NoError(t, c.handleInstrument(json.RawMessage(`[
		{"symbol":"XBTUSD","lastPrice":50100}
	]`)))

	snap := c.Snapshot()
	assert.Equal(t, 50100.0, snap.Ticker.LastPrice)
	assert.Equal(t, 50005.0, snap.Ticker.MarkPrice, "omitted field keeps prior value")
	assert.Equal(t, 1200000.0, snap.Ticker.Volume24h)
	assert.False(t, snap.Ticker.Timestamp.IsZero())
}

func TestHandleTradeRingEvictsOldest(t *testing.T) {
	c := newTestConn(t, Config{TradeBuffer: 3}, nil)

	for i := 0; i < 5; i++ {
		row, err := json.Marshal([]tradeRow{{
			Timestamp:  time.Date(2026, 3, 2, 12, 0, i, 0, time.UTC),
			Side:       "Buy",
			Size:       100,
			Price:      50000 + float64(i),
			TrdMatchID: "m",
		}})
		require.NoError(t, err)
		require.NoError(t, c.handleTrade(row))
	}

	snap := c.Snapshot()
	require.Len(t, snap.Trades, 3)
	assert.Equal(t, 50002.0, snap.Trades[0].Price, "oldest surviving trade")
	assert.Equal(t, 50004.0, snap.Trades[2].Price, "newest trade")
}

func TestHandlePositionSignConvention(t *testing.T) {
	c := newTestConn(t, Config{}, nil)

	require.NoError(t, c.handlePosition(json.RawMessage(`[
		{"symbol":"XBTUSD","currentQty":-500,"avgEntryPrice":50000,"markPrice":49900,"unrealisedPnl":100000000}
	]`)))

	snap := c.Snapshot()
	require.Len(t, snap.Positions, 1)
	pos := snap.Positions[0]
	assert.Equal(t, domain.OrderSideSell, pos.Side)
	assert.Equal(t, 500.0, pos.Size)
	assert.Equal(t, 1.0, pos.UnrealizedPnL)
}

func TestHandleMessageIgnoresUnknownFrames(t *testing.T) {
	c := newTestConn(t, Config{}, nil)

	// None of these may panic or mutate the snapshot.
	c.handleMessage([]byte(`{"info":"Welcome to the BitMEX Realtime API."}`))
	c.handleMessage([]byte(`{"success":true,"subscribe":"trade:XBTUSD"}`))
	c.handleMessage([]byte(`pong`))
	c.handleMessage([]byte(`{"table":"funding","action":"insert","data":[]}`))
	c.handleMessage([]byte(`{"table":"trade","action":"insert","data":{"not":"an array"}}`))

	snap := c.Snapshot()
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Trades)
	assert.True(t, snap.Timestamp.IsZero())
}

func TestSnapshotIsolatedFromLiveState(t *testing.T) {
	c := newTestConn(t, Config{}, nil)
	require.NoError(t, c.handleOrderbook(json.RawMessage(`[
		{"symbol":"XBTUSD","bids":[[50000,100]],"asks":[[50010,80]]}
	]`)))

	snap := c.Snapshot()
	require.Len(t, snap.Bids, 1)
	snap.Bids[0].Price = 1
	snap.Bids[0].Size = 0

	fresh := c.Snapshot()
	assert.Equal(t, 50000.0, fresh.Bids[0].Price, "mutating a snapshot must not affect live state")
	assert.Equal(t, 100.0, fresh.Bids[0].Size)
}

func TestCloseStopsReconnection(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	c := newTestConn(t, Config{
		ReconnectBase: 10 * time.Millisecond,
		MaxReconnects: 100,
	}, nil)
	c.dial = func(context.Context) (wsConn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(25 * time.Millisecond)
	c.Close()

	mu.Lock()
	before := dials
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	after := dials
	mu.Unlock()

	assert.LessOrEqual(t, after-before, 1, "no further dials after Close")
	assert.Equal(t, StateClosed, c.State())
}
