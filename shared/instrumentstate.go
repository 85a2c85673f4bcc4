package shared

import (
	"fmt"
	"math"
)

// InstrumentState represents the per-instrument session state visible to pattern detection.
type InstrumentState struct {
	Instrument      string
	Finalized       *CandlestickSnapshot
	DayHigh         float64
	DayLow          float64
	DayLowReversal  bool
	DayHighReversal bool
	SignalHigh      float64
	SignalLow       float64

	extremesSet bool
}

// NewInstrumentState initializes the state of an instrument.
func NewInstrumentState(instrument string) (*InstrumentState, error) {
	snapshot, err := NewCandlestickSnapshot(FinalizedSnapshotSize)
	if err != nil {
		return nil, fmt.Errorf("creating finalized candle snapshot: %w", err)
	}

	return &InstrumentState{
		Instrument: instrument,
		Finalized:  snapshot,
	}, nil
}

// Widen extends the day extremes to include the provided price. Day extremes never tighten
// within a session.
func (s *InstrumentState) Widen(price float64) {
	if !s.extremesSet {
		s.DayHigh = price
		s.DayLow = price
		s.extremesSet = true
		return
	}

	s.DayHigh = math.Max(s.DayHigh, price)
	s.DayLow = math.Min(s.DayLow, price)
}

// Flagged checks whether a reversal has been identified in either direction.
func (s *InstrumentState) Flagged() bool {
	return s.DayLowReversal || s.DayHighReversal
}

// ResetSession clears the finalized candles, day extremes, reversal flags and signal levels.
func (s *InstrumentState) ResetSession() {
	snapshot, err := NewCandlestickSnapshot(FinalizedSnapshotSize)
	if err == nil {
		s.Finalized = snapshot
	}
	s.DayHigh = 0
	s.DayLow = 0
	s.extremesSet = false
	s.DayLowReversal = false
	s.DayHighReversal = false
	s.SignalHigh = 0
	s.SignalLow = 0
}

// Clone returns a copy of the instrument state.
func (s *InstrumentState) Clone() InstrumentState {
	clone := *s
	clone.Finalized = s.Finalized.Clone()
	return clone
}
