package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/reversal/shared"
)

// Instrument tracks the session state of an instrument. A single mutex guards the active
// candle, the finalized candles, the day extremes, the reversal flags and the latest price.
type Instrument struct {
	id         string
	mtx        sync.Mutex
	state      *shared.InstrumentState
	active     *shared.Candlestick
	lastTickAt time.Time

	lastPrice   float64
	lastPriceAt time.Time
	priceSet    bool
}

// NewInstrument initializes a new instrument.
func NewInstrument(id string) (*Instrument, error) {
	state, err := shared.NewInstrumentState(id)
	if err != nil {
		return nil, fmt.Errorf("creating %s state: %w", id, err)
	}

	return &Instrument{
		id:    id,
		state: state,
	}, nil
}

// setPrice records the provided tick as the instrument's latest known price.
func (i *Instrument) setPrice(tick shared.Tick) {
	i.mtx.Lock()
	i.lastPrice = tick.Price
	i.lastPriceAt = tick.ObservedAt
	i.priceSet = true
	i.mtx.Unlock()
}

// Price returns the latest known price of the instrument and whether one has been observed.
func (i *Instrument) Price() (float64, time.Time, bool) {
	i.mtx.Lock()
	defer i.mtx.Unlock()
	return i.lastPrice, i.lastPriceAt, i.priceSet
}

// Snapshot returns a copy of the instrument's state along with a copy of its active candle.
// The active candle is nil before the instrument's first aggregated tick.
func (i *Instrument) Snapshot() (shared.InstrumentState, *shared.Candlestick) {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	state := i.state.Clone()
	if i.active == nil {
		return state, nil
	}

	active := *i.active
	return state, &active
}

// resetSession clears the instrument's session state.
func (i *Instrument) resetSession() {
	i.mtx.Lock()
	i.state.ResetSession()
	i.active = nil
	i.lastTickAt = time.Time{}
	i.mtx.Unlock()
}
