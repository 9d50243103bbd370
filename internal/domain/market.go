// Package domain defines the core data model shared by the feed, signal,
// risk, and order-lifecycle layers: snapshots, candles, orders, positions,
// and the store contracts implemented by the persistence layer.
package domain

import (
	"math"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// PublicTrade is one trade printed on the exchange's public trade channel.
type PublicTrade struct {
	Timestamp time.Time
	Side      string
	Price     float64
	Size      float64
	MatchID   string
}

// Ticker is the latest instrument-level snapshot.
type Ticker struct {
	LastPrice float64
	MarkPrice float64
	HighPrice float64
	LowPrice  float64
	Volume24h float64
	Timestamp time.Time
}

// MarketSnapshot is the immutable-at-read view the feed exposes to the
// control loop: best levels sorted best-first, a bounded window of recent
// trades, the latest ticker, and the latest position list.
type MarketSnapshot struct {
	Bids      []PriceLevel // sorted by price descending
	Asks      []PriceLevel // sorted by price ascending
	Trades    []PublicTrade
	Ticker    Ticker
	Positions []Position
	Timestamp time.Time
}

// BestBid returns the highest bid, or zero when the book side is empty.
func (s MarketSnapshot) BestBid() PriceLevel {
	if len(s.Bids) == 0 {
		return PriceLevel{}
	}
	return s.Bids[0]
}

// BestAsk returns the lowest ask, or zero when the book side is empty.
func (s MarketSnapshot) BestAsk() PriceLevel {
	if len(s.Asks) == 0 {
		return PriceLevel{}
	}
	return s.Asks[0]
}

// Imbalance returns (bidVolume - askVolume) / (bidVolume + askVolume) over
// the visible depth. Positive values mean bid pressure. Zero when the book
// is empty.
func (s MarketSnapshot) Imbalance() float64 {
	var bidVol, askVol float64
	for _, l := range s.Bids {
		bidVol += l.Size
	}
	for _, l := range s.Asks {
		askVol += l.Size
	}
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// EstimateSlippage walks the book for a market order of the given size and
// returns the expected slippage percent versus expectedPrice. A buy consumes
// asks, a sell consumes bids. Returns 0 when the book is empty or the
// expected price is not positive.
func (s MarketSnapshot) EstimateSlippage(side OrderSide, amount, expectedPrice float64) float64 {
	if expectedPrice <= 0 {
		return 0
	}

	levels := s.Asks
	if side == OrderSideSell {
		levels = s.Bids
	}

	executed := expectedPrice
	remaining := amount
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		if l.Size >= remaining {
			executed = l.Price
			break
		}
		remaining -= l.Size
	}

	return math.Abs(executed-expectedPrice) / expectedPrice * 100
}
