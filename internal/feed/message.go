package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// frame is the outer envelope of every BitMEX realtime message:
// {"table": ..., "action": ..., "data": [...]}. Frames without a table
// (welcome banners, subscribe acks, pongs) are ignored by the dispatcher.
type frame struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// wsCommand is an outbound op frame, e.g. {"op":"subscribe","args":[...]}.
type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// tradeRow is one element of a trade-table frame.
type tradeRow struct {
	Timestamp  time.Time `json:"timestamp"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	TrdMatchID string    `json:"trdMatchID"`
}

// bookRow is one element of an orderBook10 frame. Levels are [price, size]
// pairs, best level first.
type bookRow struct {
	Symbol    string       `json:"symbol"`
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// instrumentRow is the subset of an instrument frame we consume.
type instrumentRow struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"lastPrice"`
	MarkPrice float64   `json:"markPrice"`
	HighPrice float64   `json:"highPrice"`
	LowPrice  float64   `json:"lowPrice"`
	Volume24h float64   `json:"volume24h"`
	Timestamp time.Time `json:"timestamp"`
}

// positionRow is the subset of a position frame we consume.
type positionRow struct {
	Symbol           string  `json:"symbol"`
	CurrentQty       float64 `json:"currentQty"`
	AvgEntryPrice    float64 `json:"avgEntryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	Leverage         float64 `json:"leverage"`
	UnrealisedPnl    float64 `json:"unrealisedPnl"`
}

func decodeRows[T any](data json.RawMessage) ([]T, error) {
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}
