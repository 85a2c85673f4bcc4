package shared

import (
	"time"
)

// ReversalKind represents the kind of day extreme reversal detected.
type ReversalKind int

const (
	LowReversal ReversalKind = iota
	HighReversal
)

// String stringifies the provided reversal kind.
func (k ReversalKind) String() string {
	switch k {
	case LowReversal:
		return "day low reversal"
	case HighReversal:
		return "day high reversal"
	default:
		return "unknown"
	}
}

// ReversalSignal represents a detected reversal at a day extreme along with the price
// thresholds to watch for an entry.
type ReversalSignal struct {
	Instrument string
	Kind       ReversalKind
	SignalHigh float64
	SignalLow  float64
	CreatedOn  time.Time
}

// NewReversalSignal initializes a new reversal signal.
func NewReversalSignal(instrument string, kind ReversalKind, high float64, low float64, created time.Time) ReversalSignal {
	return ReversalSignal{
		Instrument: instrument,
		Kind:       kind,
		SignalHigh: high,
		SignalLow:  low,
		CreatedOn:  created,
	}
}

// CandleUpdate represents an instrument's latest finalized candlestick along with its day
// extremes at the time of finalization.
type CandleUpdate struct {
	Instrument string
	Candle     Candlestick
	DayHigh    float64
	DayLow     float64
}
