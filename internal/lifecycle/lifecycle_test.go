package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selimacar/trendbot/internal/domain"
	"github.com/selimacar/trendbot/internal/exchange"
)

type fakeExchange struct {
	mu           sync.Mutex
	events       []string
	open         map[string]exchange.OrderRequest
	fills        map[string]float64 // id -> avg fill price
	nextID       int
	stopErr      error
	cancelAllErr error
	position     *domain.Position
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		open:  make(map[string]exchange.OrderRequest),
		fills: make(map[string]float64),
	}
}

// markFilled moves an open order to the filled state at the given price.
func (f *fakeExchange) markFilled(id string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, id)
	f.fills[id] = price
}

func (f *fakeExchange) FetchBalance(context.Context) (exchange.Balance, error) {
	return exchange.Balance{Free: 10000, Total: 10000}, nil
}

func (f *fakeExchange) FetchPosition(context.Context, string) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeExchange) FetchOHLCV(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req exchange.OrderRequest) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Type == domain.OrderTypeStopMarket && f.stopErr != nil {
		return domain.Order{}, f.stopErr
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.open[id] = req
	f.events = append(f.events, "create:"+id)
	return domain.Order{
		ID:        id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		StopPrice: req.StopPrice,
		Status:    domain.OrderStatusOpen,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeExchange) FetchOrder(_ context.Context, id, symbol string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if price, ok := f.fills[id]; ok {
		return domain.Order{
			ID: id, Symbol: symbol,
			ExecutedPrice: price,
			Status:        domain.OrderStatusFilled,
		}, nil
	}
	if req, ok := f.open[id]; ok {
		return domain.Order{
			ID: id, Symbol: req.Symbol, Side: req.Side,
			Amount: req.Amount, StopPrice: req.StopPrice,
			Status: domain.OrderStatusOpen,
		}, nil
	}
	return domain.Order{}, domain.ErrNotFound
}

func (f *fakeExchange) CancelOrder(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, id)
	f.events = append(f.events, "cancel:"+id)
	return nil
}

func (f *fakeExchange) CancelAllOrders(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelAllErr != nil {
		return f.cancelAllErr
	}
	f.open = make(map[string]exchange.OrderRequest)
	f.events = append(f.events, "cancel_all")
	return nil
}

func (f *fakeExchange) openOrders() map[string]exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]exchange.OrderRequest, len(f.open))
	for k, v := range f.open {
		out[k] = v
	}
	return out
}

func newTestManager(ex exchange.Exchange) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager("XBTUSD", ex, Stores{}, nil, logger)
}

func TestPlaceEntryPlacesEntryAndStop(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	entry, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRoleEntryLong, entry.Role)

	open := ex.openOrders()
	require.Len(t, open, 2)
	var entries, stops int
	for _, req := range open {
		switch req.Type {
		case domain.OrderTypeMarket:
			entries++
			assert.Equal(t, domain.OrderSideBuy, req.Side)
		case domain.OrderTypeStopMarket:
			stops++
			assert.Equal(t, domain.OrderSideSell, req.Side)
			assert.Equal(t, 49250.0, req.StopPrice)
			assert.True(t, req.CloseOnTrigger)
		}
	}
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, stops)
}

func TestPlaceEntryReversalKeepsOneEntryOneStop(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)
	_, err = m.PlaceEntry(context.Background(), domain.OrderSideSell, 100, 50000, 50750)
	require.NoError(t, err)

	open := ex.openOrders()
	require.Len(t, open, 2)
	for _, req := range open {
		if req.Type == domain.OrderTypeMarket {
			assert.Equal(t, domain.OrderSideSell, req.Side)
		} else {
			assert.Equal(t, domain.OrderSideBuy, req.Side)
		}
	}
	assert.Len(t, m.ActiveOrders(), 2)
}

func TestPlaceEntryRejectsZeroAmount(t *testing.T) {
	m := newTestManager(newFakeExchange())

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 0, 50000, 49250)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPlaceEntryFlattensWhenStopFails(t *testing.T) {
	ex := newFakeExchange()
	ex.stopErr = errors.New("stop rejected")
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "place stop")

	// The entry was flattened with an opposing market order and all
	// orders cancelled; nothing is left tracked.
	assert.Empty(t, ex.openOrders())
	assert.Empty(t, m.ActiveOrders())
	assert.False(t, m.HasEntry())
}

func TestModifyStopPlacesNewBeforeCancellingOld(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)
	// Entry is ord-1, original stop is ord-2.
	replacement, err := m.ModifyStop(context.Background(), 49500)
	require.NoError(t, err)
	assert.Equal(t, 49500.0, replacement.StopPrice)

	events := ex.events
	require.Contains(t, events, "create:ord-3")
	require.Contains(t, events, "cancel:ord-2")
	createIdx, cancelIdx := -1, -1
	for i, e := range events {
		switch e {
		case "create:ord-3":
			createIdx = i
		case "cancel:ord-2":
			cancelIdx = i
		}
	}
	assert.Less(t, createIdx, cancelIdx, "replacement must exist before the old stop is cancelled")

	stops := 0
	for _, req := range ex.openOrders() {
		if req.Type == domain.OrderTypeStopMarket {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestModifyStopWithoutPositionFails(t *testing.T) {
	m := newTestManager(newFakeExchange())

	_, err := m.ModifyStop(context.Background(), 49500)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelAllClearsTrackingOnExchangeError(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)

	ex.cancelAllErr = errors.New("venue down")
	err = m.CancelAll(context.Background())
	require.Error(t, err)
	assert.Empty(t, m.ActiveOrders())
}

func TestClosePositionWhenFlat(t *testing.T) {
	m := newTestManager(newFakeExchange())

	err := m.ClosePosition(context.Background(), "trend flip")
	require.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestClosePositionFlattensAndCancels(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)

	ex.mu.Lock()
	ex.position = &domain.Position{
		Symbol: "XBTUSD", Side: domain.OrderSideBuy, Size: 100,
		EntryPrice: 50000, MarkPrice: 50500, UnrealizedPnL: 0.001,
	}
	ex.mu.Unlock()

	require.NoError(t, m.ClosePosition(context.Background(), "trend flip"))
	assert.Empty(t, ex.openOrders())
	assert.False(t, m.HasEntry())
}

func TestRecordFillMeasuresSlippage(t *testing.T) {
	m := newTestManager(newFakeExchange())

	buy := domain.Order{
		ID: "ord-9", Symbol: "XBTUSD", Role: domain.OrderRoleEntryLong,
		Side: domain.OrderSideBuy, Amount: 100, IntendedPrice: 50000,
	}
	sample := m.RecordFill(context.Background(), buy, 50050)
	assert.InDelta(t, 50.0, sample.Slippage, 1e-9)
	assert.InDelta(t, 0.1, sample.SlippagePercent, 1e-9)

	sell := buy
	sell.Side = domain.OrderSideSell
	sample = m.RecordFill(context.Background(), sell, 49950)
	assert.InDelta(t, 50.0, sample.Slippage, 1e-9)
	assert.InDelta(t, 0.1, sample.SlippagePercent, 1e-9)
}

func findByRole(t *testing.T, m *Manager, role domain.OrderRole) domain.Order {
	t.Helper()
	for _, o := range m.ActiveOrders() {
		if o.Role == role {
			return o
		}
	}
	t.Fatalf("no active order with role %s", role)
	return domain.Order{}
}

func TestStopCarriesIntendedPrice(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)

	stop := findByRole(t, m, domain.OrderRoleStopLoss)
	require.InDelta(t, 49250.0, stop.IntendedPrice, 1e-9)

	// A stop that triggers and fills past its price shows real slippage.
	sample := m.RecordFill(context.Background(), stop, 49200)
	assert.InDelta(t, 50.0, sample.Slippage, 1e-9)
}

func TestSyncFillsRemovesFilledEntry(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)

	entry := findByRole(t, m, domain.OrderRoleEntryLong)
	ex.markFilled(entry.ID, 50040)
	require.NoError(t, m.SyncFills(context.Background()))

	// The filled entry leaves the active set; the stop stays.
	require.Len(t, m.ActiveOrders(), 1)
	assert.Equal(t, domain.OrderRoleStopLoss, m.ActiveOrders()[0].Role)
	assert.True(t, m.HasEntry())
}

func TestSyncFillsOnStopFillEndsCycle(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)

	entry := findByRole(t, m, domain.OrderRoleEntryLong)
	stop := findByRole(t, m, domain.OrderRoleStopLoss)
	ex.markFilled(entry.ID, 50010)
	ex.markFilled(stop.ID, 49190)
	require.NoError(t, m.SyncFills(context.Background()))

	assert.Empty(t, m.ActiveOrders())
	assert.False(t, m.HasEntry())
}

func TestSyncFillsDropsUnknownOrders(t *testing.T) {
	ex := newFakeExchange()
	m := newTestManager(ex)

	_, err := m.PlaceEntry(context.Background(), domain.OrderSideBuy, 100, 50000, 49250)
	require.NoError(t, err)

	ex.mu.Lock()
	ex.open = make(map[string]exchange.OrderRequest)
	ex.mu.Unlock()

	require.NoError(t, m.SyncFills(context.Background()))
	assert.Empty(t, m.ActiveOrders())
}
