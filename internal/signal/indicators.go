package signal

import (
	"math"

	"github.com/selimacar/trendbot/internal/domain"
)

// trueRange returns the true range for candle i:
// max(high-low, |high-prevClose|, |low-prevClose|). For the first candle
// it falls back to high-low.
func trueRange(candles []domain.Candle, i int) float64 {
	c := candles[i]
	if i == 0 {
		return c.High - c.Low
	}
	prevClose := candles[i-1].Close
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// atrSeries computes the Wilder-smoothed Average True Range. Entries before
// index period hold NaN; atr[period] is the simple mean of the first
// period+1 true ranges excluding index 0's bootstrap bias, then
// atr[i] = (atr[i-1]*(period-1) + tr[i]) / period.
func atrSeries(candles []domain.Candle, period int) []float64 {
	n := len(candles)
	atr := make([]float64, n)
	for i := range atr {
		atr[i] = math.NaN()
	}
	if n <= period {
		return atr
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(candles, i)
	}
	atr[period] = sum / float64(period)
	for i := period + 1; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + trueRange(candles, i)) / float64(period)
	}
	return atr
}

// rsiSeries computes the Wilder RSI over closes. Entries before index
// period hold NaN.
func rsiSeries(candles []domain.Candle, period int) []float64 {
	n := len(candles)
	rsi := make([]float64, n)
	for i := range rsi {
		rsi[i] = math.NaN()
	}
	if n <= period {
		return rsi
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := candles[i].Close - candles[i-1].Close
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		delta := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// rocAt returns the rate of change of close over period candles ending at
// index i, as a fraction. NaN when out of range or the base close is zero.
func rocAt(candles []domain.Candle, i, period int) float64 {
	if i < period {
		return math.NaN()
	}
	base := candles[i-period].Close
	if base == 0 {
		return math.NaN()
	}
	return (candles[i].Close - base) / base
}

// rollingMeanAt returns the mean of the values in the window ending at
// index i. When fewer than window values are available the partial window
// is used, so the mean is defined from the first element on.
func rollingMeanAt(values []float64, i, window int) float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	var sum float64
	for j := start; j <= i; j++ {
		sum += values[j]
	}
	return sum / float64(i-start+1)
}

// volatilityAt returns the sample standard deviation of close-to-close
// percent changes over the window ending at index i, scaled to percent.
// NaN when fewer than two returns are available.
func volatilityAt(candles []domain.Candle, i, window int) float64 {
	start := i - window + 1
	if start < 1 {
		start = 1
	}
	count := i - start + 1
	if count < 2 {
		return math.NaN()
	}

	returns := make([]float64, 0, count)
	for j := start; j <= i; j++ {
		prev := candles[j-1].Close
		if prev == 0 {
			return math.NaN()
		}
		returns = append(returns, (candles[j].Close-prev)/prev)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * 100
}
