// Package bitmex implements the exchange.Exchange contract against the
// BitMEX REST API, with api-key/api-expires/api-signature request signing.
package bitmex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/selimacar/trendbot/internal/domain"
	"github.com/selimacar/trendbot/internal/exchange"
)

const (
	mainnetHost = "https://www.bitmex.com"
	testnetHost = "https://testnet.bitmex.com"
	apiPrefix   = "/api/v1"

	// requestExpiry is how far in the future the api-expires header points.
	requestExpiry = 10 * time.Second
)

// ClientConfig holds credentials and connection parameters.
type ClientConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// BaseURL overrides the host entirely (used in tests).
	BaseURL string
	Timeout time.Duration
}

// Client is a BitMEX REST client implementing exchange.Exchange.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	now       func() time.Time
}

var _ exchange.Exchange = (*Client)(nil)

// NewClient creates a Client from cfg. The default HTTP timeout is 15s.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		if cfg.Testnet {
			base = testnetHost
		} else {
			base = mainnetHost
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

// FetchBalance returns the account margin balance converted from satoshis.
func (c *Client) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	var margin marginResponse
	query := url.Values{"currency": {"XBt"}}
	if err := c.do(ctx, http.MethodGet, "/user/margin", query, nil, &margin); err != nil {
		return exchange.Balance{}, fmt.Errorf("bitmex: fetch balance: %w", err)
	}

	total := float64(margin.MarginBalance) / satoshisPerBTC
	free := float64(margin.AvailableMargin) / satoshisPerBTC
	used := total - free
	if used < 0 {
		used = 0
	}
	return exchange.Balance{Free: free, Used: used, Total: total}, nil
}

// FetchPosition returns the open position for symbol, or nil when flat.
func (c *Client) FetchPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	filter, _ := json.Marshal(map[string]string{"symbol": symbol})
	query := url.Values{"filter": {string(filter)}}

	var positions []positionResponse
	if err := c.do(ctx, http.MethodGet, "/position", query, nil, &positions); err != nil {
		return nil, fmt.Errorf("bitmex: fetch position: %w", err)
	}

	for _, p := range positions {
		if p.Symbol != symbol || p.CurrentQty == 0 {
			continue
		}
		side := domain.OrderSideBuy
		if p.CurrentQty < 0 {
			side = domain.OrderSideSell
		}
		size := p.CurrentQty
		if size < 0 {
			size = -size
		}
		return &domain.Position{
			Symbol:           p.Symbol,
			Side:             side,
			Size:             size,
			EntryPrice:       p.AvgEntryPrice,
			MarkPrice:        p.MarkPrice,
			LiquidationPrice: p.LiquidationPrice,
			Leverage:         p.Leverage,
			UnrealizedPnL:    float64(p.UnrealisedPnl) / satoshisPerBTC,
			Timestamp:        c.now().UTC(),
		}, nil
	}
	return nil, nil
}

// FetchOHLCV returns up to limit bucketed candles for symbol, oldest first.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{
		"binSize": {timeframe},
		"symbol":  {symbol},
		"count":   {strconv.Itoa(limit)},
		"reverse": {"true"},
		"partial": {"true"},
	}

	var rows []bucketedTrade
	if err := c.do(ctx, http.MethodGet, "/trade/bucketed", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("bitmex: fetch ohlcv: %w", err)
	}

	// The API returns newest-first with reverse=true; flip to oldest-first.
	candles := make([]domain.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		candles = append(candles, domain.Candle{
			Timestamp: r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return candles, nil
}

// FetchOrder returns the current state of one order by exchange id.
// Returns domain.ErrNotFound when the exchange does not know the id.
func (c *Client) FetchOrder(ctx context.Context, id, symbol string) (domain.Order, error) {
	filter, _ := json.Marshal(map[string]string{"orderID": id})
	query := url.Values{
		"symbol": {symbol},
		"filter": {string(filter)},
	}

	var rows []orderResponse
	if err := c.do(ctx, http.MethodGet, "/order", query, nil, &rows); err != nil {
		return domain.Order{}, fmt.Errorf("bitmex: fetch order %s: %w", id, err)
	}
	if len(rows) == 0 {
		return domain.Order{}, fmt.Errorf("bitmex: fetch order %s: %w", id, domain.ErrNotFound)
	}

	r := rows[0]
	return domain.Order{
		ID:            r.OrderID,
		Symbol:        r.Symbol,
		Side:          domainSide(r.Side),
		Type:          domainType(r.OrdType),
		Amount:        r.OrderQty,
		StopPrice:     r.StopPx,
		ExecutedPrice: r.AvgPx,
		Status:        mapStatus(r.OrdStatus),
		CreatedAt:     r.Timestamp,
	}, nil
}

// CreateOrder submits one order and maps the response to a domain.Order.
func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	if req.Amount <= 0 {
		return domain.Order{}, fmt.Errorf("bitmex: create order: %w: amount %v", domain.ErrInvalidOrder, req.Amount)
	}

	payload := map[string]any{
		"symbol":   req.Symbol,
		"side":     wireSide(req.Side),
		"orderQty": req.Amount,
	}
	switch req.Type {
	case domain.OrderTypeMarket:
		payload["ordType"] = "Market"
	case domain.OrderTypeLimit:
		payload["ordType"] = "Limit"
		payload["price"] = req.Price
	case domain.OrderTypeStopMarket:
		payload["ordType"] = "Stop"
		payload["stopPx"] = req.StopPrice
		if req.CloseOnTrigger {
			payload["execInst"] = "Close,LastPrice"
		} else {
			payload["execInst"] = "LastPrice"
		}
	default:
		return domain.Order{}, fmt.Errorf("bitmex: create order: %w: type %q", domain.ErrInvalidOrder, req.Type)
	}
	if req.ClientID != "" {
		payload["clOrdID"] = req.ClientID
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/order", nil, payload, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("bitmex: create order: %w", err)
	}

	return domain.Order{
		ID:        resp.OrderID,
		Symbol:    resp.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    resp.OrderQty,
		StopPrice: resp.StopPx,
		Status:    mapStatus(resp.OrdStatus),
		CreatedAt: resp.Timestamp,
	}, nil
}

// CancelOrder cancels a single order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, id, symbol string) error {
	query := url.Values{"orderID": {id}}
	if err := c.do(ctx, http.MethodDelete, "/order", query, nil, nil); err != nil {
		return fmt.Errorf("bitmex: cancel order %s: %w", id, err)
	}
	return nil
}

// CancelAllOrders cancels every open order for symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	query := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodDelete, "/order/all", query, nil, nil); err != nil {
		return fmt.Errorf("bitmex: cancel all orders: %w", err)
	}
	return nil
}

// do performs one signed request and decodes the JSON response into out
// (when out is non-nil).
func (c *Client) do(ctx context.Context, verb, path string, query url.Values, payload any, out any) error {
	fullPath := apiPrefix + path
	if len(query) > 0 {
		fullPath += "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, verb, c.baseURL+fullPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		expires := c.now().Add(requestExpiry).Unix()
		req.Header.Set("api-key", c.apiKey)
		req.Header.Set("api-expires", strconv.FormatInt(expires, 10))
		req.Header.Set("api-signature", sign(c.apiSecret, verb, fullPath, expires, string(body)))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("status %d: %s: %s", resp.StatusCode, apiErr.Error.Name, apiErr.Error.Message)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wireSide(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "Buy"
	}
	return "Sell"
}

func domainSide(s string) domain.OrderSide {
	if s == "Sell" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func domainType(s string) domain.OrderType {
	switch s {
	case "Limit":
		return domain.OrderTypeLimit
	case "Stop":
		return domain.OrderTypeStopMarket
	default:
		return domain.OrderTypeMarket
	}
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "New":
		return domain.OrderStatusNew
	case "Filled", "PartiallyFilled":
		return domain.OrderStatusFilled
	case "Canceled":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}
