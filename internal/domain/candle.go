package domain

import (
	"math"
	"sort"
	"time"
)

// Candle is a single minute-aligned OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid reports whether the candle carries usable numbers: finite prices,
// positive high/low, high >= low, and non-negative volume.
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.High > 0 && c.Low > 0 && c.High >= c.Low && c.Volume >= 0 && !c.Timestamp.IsZero()
}

// CoalesceCandles sorts candles by timestamp and merges entries sharing the
// same minute: open from the first, high is the max, low is the min, close
// from the last, volumes summed. Timestamps are truncated to the minute.
func CoalesceCandles(in []Candle) []Candle {
	if len(in) == 0 {
		return nil
	}

	sorted := make([]Candle, len(in))
	copy(sorted, in)
	for i := range sorted {
		sorted[i].Timestamp = sorted[i].Timestamp.Truncate(time.Minute)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make([]Candle, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
			prev := &out[n-1]
			prev.High = math.Max(prev.High, c.High)
			prev.Low = math.Min(prev.Low, c.Low)
			prev.Close = c.Close
			prev.Volume += c.Volume
			continue
		}
		out = append(out, c)
	}
	return out
}
