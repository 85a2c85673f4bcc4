package engine

import (
	"math"

	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
)

// EngineConfig represents the pattern detection engine configuration.
type EngineConfig struct {
	// TolerancePercent is the maximum percentage distance for a price to be considered close to
	// a day extreme.
	TolerancePercent float64
	// SignalReversal relays the provided reversal signal for position monitoring.
	SignalReversal func(signal shared.ReversalSignal)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Engine detects reversals at an instrument's day extremes.
type Engine struct {
	cfg *EngineConfig
}

// NewEngine initializes a new pattern detection engine.
func NewEngine(cfg *EngineConfig) *Engine {
	if cfg.TolerancePercent <= 0 {
		cfg.TolerancePercent = shared.DefaultTolerancePercent
	}

	return &Engine{cfg: cfg}
}

// lowReversal checks whether the current candle reverses a red candle at the day low.
func (e *Engine) lowReversal(prev *shared.Candlestick, cur *shared.Candlestick, dayLow float64) bool {
	if prev.Color != shared.Red || cur.Color != shared.Green {
		return false
	}

	return cur.Low <= dayLow || shared.IsCloseTo(cur.Low, dayLow, e.cfg.TolerancePercent)
}

// highReversal checks whether the current candle reverses a green candle at the day high.
func (e *Engine) highReversal(prev *shared.Candlestick, cur *shared.Candlestick, dayHigh float64) bool {
	if prev.Color != shared.Green || cur.Color != shared.Red {
		return false
	}

	return cur.High >= dayHigh || shared.IsCloseTo(cur.High, dayHigh, e.cfg.TolerancePercent)
}

// Evaluate checks the two most recently finalized candles of the provided instrument state for
// a reversal at the day low or day high. Identified reversals flag the state, set its signal
// levels and are relayed for position monitoring.
func (e *Engine) Evaluate(state *shared.InstrumentState) []shared.ReversalSignal {
	if state.Finalized.Count() < 2 {
		return nil
	}

	candles := state.Finalized.LastN(2)
	prev, cur := candles[0], candles[1]

	kinds := make([]shared.ReversalKind, 0, 2)
	if !state.DayLowReversal && e.lowReversal(prev, cur, state.DayLow) {
		state.DayLowReversal = true
		kinds = append(kinds, shared.LowReversal)
	}
	if !state.DayHighReversal && e.highReversal(prev, cur, state.DayHigh) {
		state.DayHighReversal = true
		kinds = append(kinds, shared.HighReversal)
	}

	if len(kinds) == 0 {
		return nil
	}

	state.SignalHigh = math.Max(cur.High, state.DayHigh)
	state.SignalLow = math.Min(cur.Low, state.DayLow)

	signals := make([]shared.ReversalSignal, 0, len(kinds))
	for _, kind := range kinds {
		signal := shared.NewReversalSignal(state.Instrument, kind, state.SignalHigh, state.SignalLow, cur.End)
		signals = append(signals, signal)

		e.cfg.Logger.Info().
			Str("instrument", state.Instrument).
			Str("kind", kind.String()).
			Float64("signalhigh", signal.SignalHigh).
			Float64("signallow", signal.SignalLow).
			Float64("dayhigh", state.DayHigh).
			Float64("daylow", state.DayLow).
			Msg("reversal identified")
	}

	// A single watch is started per instrument regardless of how many reversals were flagged.
	if e.cfg.SignalReversal != nil {
		e.cfg.SignalReversal(signals[0])
	}

	return signals
}
