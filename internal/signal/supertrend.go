package signal

import (
	"math"

	"github.com/selimacar/trendbot/internal/domain"
)

// supertrendRow holds the SuperTrend state for a single candle.
type supertrendRow struct {
	upperBand float64
	lowerBand float64
	trend     domain.TrendDirection
	flipped   bool
}

// computeSupertrend runs the SuperTrend band computation over the candle
// series. Basic bands derive from the candle midpoint and the ATR:
//
//	basicUpper = (high+low)/2 + multiplier*atr
//	basicLower = (high+low)/2 - multiplier*atr
//
// While a trend persists the final band on the active side only ratchets
// in the trend's favor: in an uptrend finalLower never decreases, in a
// downtrend finalUpper never increases. The trend flips when the close
// crosses the prior candle's final band on the opposite side, and the flip
// resets the bands to the basic values.
func computeSupertrend(candles []domain.Candle, atr []float64, multiplier float64) []supertrendRow {
	n := len(candles)
	rows := make([]supertrendRow, n)
	for i := range rows {
		rows[i] = supertrendRow{
			upperBand: math.NaN(),
			lowerBand: math.NaN(),
			trend:     domain.TrendNone,
		}
	}

	first := -1
	for i := 0; i < n; i++ {
		if !math.IsNaN(atr[i]) {
			first = i
			break
		}
	}
	if first < 0 {
		return rows
	}

	mid := (candles[first].High + candles[first].Low) / 2
	rows[first] = supertrendRow{
		upperBand: mid + multiplier*atr[first],
		lowerBand: mid - multiplier*atr[first],
		trend:     domain.TrendUp,
	}

	for i := first + 1; i < n; i++ {
		mid := (candles[i].High + candles[i].Low) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]
		prev := rows[i-1]
		close := candles[i].Close

		row := supertrendRow{trend: prev.trend}
		switch prev.trend {
		case domain.TrendUp:
			if close < prev.lowerBand {
				row.trend = domain.TrendDown
				row.flipped = true
				row.upperBand = basicUpper
				row.lowerBand = basicLower
			} else {
				row.upperBand = basicUpper
				row.lowerBand = math.Max(basicLower, prev.lowerBand)
			}
		case domain.TrendDown:
			if close > prev.upperBand {
				row.trend = domain.TrendUp
				row.flipped = true
				row.upperBand = basicUpper
				row.lowerBand = basicLower
			} else {
				row.upperBand = math.Min(basicUpper, prev.upperBand)
				row.lowerBand = basicLower
			}
		}
		rows[i] = row
	}
	return rows
}

// trendDuration returns the number of consecutive candles, ending at index
// i, that share the trend at i.
func trendDuration(rows []supertrendRow, i int) int {
	trend := rows[i].trend
	if trend == domain.TrendNone {
		return 0
	}
	count := 0
	for j := i; j >= 0 && rows[j].trend == trend; j-- {
		count++
		if rows[j].flipped {
			break
		}
	}
	return count
}
