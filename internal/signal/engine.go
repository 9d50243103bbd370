// Package signal computes SuperTrend trade signals from candle history.
package signal

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/selimacar/trendbot/internal/domain"
)

// Config tunes the SuperTrend computation and the strength score. The
// three strength component caps should sum to 100.
type Config struct {
	ATRPeriod  int
	Multiplier float64

	// Strength score components.
	DurationPerCandle float64 // points per candle the trend has persisted
	DurationMax       float64 // cap on the duration component
	VolumeMax         float64 // cap on the volume component
	MomentumMax       float64 // cap on the momentum component

	StrongThreshold float64 // strength above which a flip confirms
	MinVolumeFactor float64 // volume factor required to confirm

	RSIPeriod        int
	ROCPeriod        int
	VolumeMAPeriod   int
	VolatilityWindow int
}

// DefaultConfig returns the standard 10-period, 3x multiplier setup.
func DefaultConfig() Config {
	return Config{
		ATRPeriod:         10,
		Multiplier:        3.0,
		DurationPerCandle: 2,
		DurationMax:       40,
		VolumeMax:         30,
		MomentumMax:       30,
		StrongThreshold:   70,
		MinVolumeFactor:   1.2,
		RSIPeriod:         14,
		ROCPeriod:         10,
		VolumeMAPeriod:    20,
		VolatilityWindow:  24,
	}
}

// Engine turns candle history into trend signals. Update is idempotent
// for a given candle series and safe for concurrent use with Latest.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	latest domain.TrendSignal
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "signal")),
	}
}

// MinCandles reports the shortest candle history Update needs before it
// produces a directional signal.
func (e *Engine) MinCandles() int {
	min := e.cfg.ATRPeriod
	if e.cfg.RSIPeriod > min {
		min = e.cfg.RSIPeriod
	}
	if e.cfg.ROCPeriod > min {
		min = e.cfg.ROCPeriod
	}
	return min + 1
}

// Update recomputes the signal from the given candle history. Malformed
// candles are rejected and the previous signal is kept. Histories shorter
// than MinCandles yield a TrendNone signal rather than an error.
func (e *Engine) Update(candles []domain.Candle) (domain.TrendSignal, error) {
	for i, c := range candles {
		if !c.Valid() {
			return e.Latest(), fmt.Errorf("signal: candle %d invalid", i)
		}
	}

	candles = domain.CoalesceCandles(candles)
	if len(candles) < e.MinCandles() {
		sig := domain.TrendSignal{Direction: domain.TrendNone}
		if len(candles) > 0 {
			last := candles[len(candles)-1]
			sig.Close = last.Close
			sig.Timestamp = last.Timestamp
		}
		e.store(sig)
		return sig, nil
	}

	sig := e.compute(candles)
	e.store(sig)
	return sig, nil
}

// Latest returns the most recently computed signal.
func (e *Engine) Latest() domain.TrendSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

func (e *Engine) store(sig domain.TrendSignal) {
	e.mu.Lock()
	e.latest = sig
	e.mu.Unlock()
}

func (e *Engine) compute(candles []domain.Candle) domain.TrendSignal {
	i := len(candles) - 1
	last := candles[i]

	atr := atrSeries(candles, e.cfg.ATRPeriod)
	rows := computeSupertrend(candles, atr, e.cfg.Multiplier)
	rsi := rsiSeries(candles, e.cfg.RSIPeriod)
	row := rows[i]

	volumes := make([]float64, len(candles))
	for j, c := range candles {
		volumes[j] = c.Volume
	}
	volumeFactor := 1.0
	if mean := rollingMeanAt(volumes, i, e.cfg.VolumeMAPeriod); mean > 0 {
		volumeFactor = last.Volume / mean
	}

	strength := e.strength(rows, candles, i, volumeFactor)

	sig := domain.TrendSignal{
		Direction:    row.trend,
		Strength:     strength,
		Flipped:      row.flipped,
		Confirmed:    row.flipped && strength > e.cfg.StrongThreshold && volumeFactor > e.cfg.MinVolumeFactor,
		RSI:          rsi[i],
		Volatility:   volatilityAt(candles, i, e.cfg.VolatilityWindow),
		VolumeFactor: volumeFactor,
		Close:        last.Close,
		UpperBand:    row.upperBand,
		LowerBand:    row.lowerBand,
		Timestamp:    last.Timestamp,
	}

	e.logger.Debug("signal computed",
		slog.String("direction", string(sig.Direction)),
		slog.Float64("strength", sig.Strength),
		slog.Bool("flipped", sig.Flipped),
		slog.Bool("confirmed", sig.Confirmed),
		slog.Float64("close", sig.Close))
	return sig
}

// strength scores the current trend 0-100 from three components: how long
// the trend has persisted, current volume against its rolling mean, and
// whether short-term momentum agrees with the trend direction.
func (e *Engine) strength(rows []supertrendRow, candles []domain.Candle, i int, volumeFactor float64) float64 {
	if rows[i].trend == domain.TrendNone {
		return 0
	}

	duration := math.Min(float64(trendDuration(rows, i))*e.cfg.DurationPerCandle, e.cfg.DurationMax)

	volume := e.cfg.VolumeMax
	if volumeFactor < 1 {
		volume = volumeFactor * e.cfg.VolumeMax
	}

	momentum := 0.0
	roc := rocAt(candles, i, e.cfg.ROCPeriod)
	if !math.IsNaN(roc) {
		if (rows[i].trend == domain.TrendUp && roc > 0) ||
			(rows[i].trend == domain.TrendDown && roc < 0) {
			momentum = e.cfg.MomentumMax
		}
	}

	return math.Min(duration+volume+momentum, 100)
}
