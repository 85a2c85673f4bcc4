package shared

import (
	"fmt"
	"time"
)

// Tick represents a single price observation for an instrument.
type Tick struct {
	Instrument string
	Price      float64
	ObservedAt time.Time
}

// String stringifies the provided tick.
func (t Tick) String() string {
	return fmt.Sprintf("%s@%f (%s)", t.Instrument, t.Price, t.ObservedAt.Format(DateLayout))
}
