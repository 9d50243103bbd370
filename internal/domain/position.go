package domain

import "time"

// Position is a read-only projection of the exchange-side position. It is
// fetched from the exchange (or mirrored from the feed's position channel)
// and is the source of truth for whether a position is currently open.
type Position struct {
	Symbol           string
	Side             OrderSide
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	Leverage         float64
	UnrealizedPnL    float64
	Timestamp        time.Time
}

// Open reports whether the position has non-zero size.
func (p Position) Open() bool {
	return p.Size != 0
}
