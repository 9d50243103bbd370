package signal

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selimacar/trendbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// risingCandles builds a steadily climbing series with growing volume.
// The true range is constant so the ATR settles quickly.
func risingCandles(n int) []domain.Candle {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := range candles {
		close := 100.0 + float64(i)*10
		candles[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      close - 5,
			High:      close + 1,
			Low:       close - 11,
			Close:     close,
			Volume:    1000 + float64(i)*100,
		}
	}
	return candles
}

func TestEngineInsufficientHistory(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())

	sig, err := e.Update(risingCandles(5))
	require.NoError(t, err)
	assert.Equal(t, domain.TrendNone, sig.Direction)
	assert.Zero(t, sig.Strength)
}

func TestEngineUptrend(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())

	sig, err := e.Update(risingCandles(40))
	require.NoError(t, err)
	assert.Equal(t, domain.TrendUp, sig.Direction)
	assert.Greater(t, sig.Strength, 50.0)
	assert.False(t, math.IsNaN(sig.RSI))
	assert.Greater(t, sig.RSI, 50.0)
	assert.Equal(t, sig, e.Latest())
}

func TestEngineIdempotentRecompute(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())
	candles := risingCandles(40)

	first, err := e.Update(candles)
	require.NoError(t, err)
	second, err := e.Update(candles)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngineRejectsMalformedCandles(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())
	candles := risingCandles(40)

	good, err := e.Update(candles)
	require.NoError(t, err)

	bad := append([]domain.Candle(nil), candles...)
	bad[20].Close = math.NaN()
	sig, err := e.Update(bad)
	require.Error(t, err)
	assert.Equal(t, good, sig)
	assert.Equal(t, good, e.Latest())
}

func TestSupertrendLowerBandRatchets(t *testing.T) {
	cfg := DefaultConfig()
	candles := risingCandles(60)
	atr := atrSeries(candles, cfg.ATRPeriod)
	rows := computeSupertrend(candles, atr, cfg.Multiplier)

	prev := math.Inf(-1)
	for i := cfg.ATRPeriod; i < len(rows); i++ {
		require.Equal(t, domain.TrendUp, rows[i].trend, "candle %d", i)
		require.GreaterOrEqual(t, rows[i].lowerBand, prev, "candle %d", i)
		prev = rows[i].lowerBand
	}
}

func TestSupertrendFlipsOnBreakdown(t *testing.T) {
	cfg := DefaultConfig()
	candles := risingCandles(40)

	// Crash the close well below any plausible lower band.
	last := candles[len(candles)-1]
	candles = append(candles, domain.Candle{
		Timestamp: last.Timestamp.Add(time.Minute),
		Open:      last.Close,
		High:      last.Close,
		Low:       1,
		Close:     1,
		Volume:    5000,
	})

	atr := atrSeries(candles, cfg.ATRPeriod)
	rows := computeSupertrend(candles, atr, cfg.Multiplier)
	final := rows[len(rows)-1]
	assert.Equal(t, domain.TrendDown, final.trend)
	assert.True(t, final.flipped)
}

func TestEngineCoalescesDuplicateMinutes(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())
	candles := risingCandles(40)

	// A duplicate of the last minute must merge, not extend the series.
	dup := candles[len(candles)-1]
	dup.Volume = 50
	withDup, err := e.Update(append(append([]domain.Candle(nil), candles...), dup))
	require.NoError(t, err)

	merged := domain.CoalesceCandles(append(append([]domain.Candle(nil), candles...), dup))
	assert.Len(t, merged, len(candles))
	assert.Equal(t, domain.TrendUp, withDup.Direction)
}

func TestRSISeries(t *testing.T) {
	candles := risingCandles(30)
	rsi := rsiSeries(candles, 14)

	assert.True(t, math.IsNaN(rsi[13]))
	// Every close rises, so RSI pins at 100.
	assert.InDelta(t, 100, rsi[len(rsi)-1], 1e-9)
}

func TestATRSeriesStabilizes(t *testing.T) {
	candles := risingCandles(40)
	atr := atrSeries(candles, 10)

	assert.True(t, math.IsNaN(atr[9]))
	// Constant true range of high-low plus the 10-point gap to the prior
	// close keeps the Wilder ATR at a fixed value.
	assert.InDelta(t, atr[20], atr[39], 1e-6)
}
