package domain

import "time"

// TrendDirection is the direction component of a trend signal.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendNone TrendDirection = "none" // insufficient history
)

// TrendSignal is the latest output of the signal engine. Strength is a
// 0-100 score; Confirmed marks a fresh trend flip backed by strength and
// volume. RSI and Volatility are supporting indicator values for reporting.
type TrendSignal struct {
	Direction    TrendDirection
	Strength     float64
	Confirmed    bool
	Flipped      bool // trend changed on the most recent candle
	RSI          float64
	Volatility   float64
	VolumeFactor float64
	Close        float64
	UpperBand    float64
	LowerBand    float64
	Timestamp    time.Time
}

// Actionable reports whether the signal carries a usable direction.
func (s TrendSignal) Actionable() bool {
	return s.Direction == TrendUp || s.Direction == TrendDown
}

// EntrySide maps the trend direction to the order side that follows it.
func (s TrendSignal) EntrySide() OrderSide {
	if s.Direction == TrendUp {
		return OrderSideBuy
	}
	return OrderSideSell
}
