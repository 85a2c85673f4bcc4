package shared

import (
	"math"
	"time"
)

// Color represents the direction a candlestick closed in.
type Color int

const (
	Green Color = iota
	Red
)

// String stringifies the provided candle color.
func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// Candlestick represents an OHLC summary of an instrument's price over a window.
type Candlestick struct {
	Instrument string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Color      Color
	Start      time.Time
	End        time.Time

	// Derived fields, only valid once finalized.
	BodyRatio        float64
	WickRatio        float64
	RangeToHighRatio float64
	Finalized        bool
}

// NewCandlestick initializes an active candlestick seeded from the provided price. The candle
// window starts at the provided time and ends at the next window boundary.
func NewCandlestick(instrument string, price float64, start time.Time, window time.Duration) *Candlestick {
	return &Candlestick{
		Instrument: instrument,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Color:      Green,
		Start:      start,
		End:        WindowEnd(start, window),
	}
}

// Update applies the provided price to an active candlestick. Updates to a finalized
// candlestick are ignored.
func (c *Candlestick) Update(price float64) {
	if c.Finalized {
		return
	}

	c.High = math.Max(c.High, price)
	c.Low = math.Min(c.Low, price)
	c.Close = price
}

// Elapsed checks whether the candlestick's window has elapsed at the provided time.
func (c *Candlestick) Elapsed(at time.Time) bool {
	return !at.Before(c.End)
}

// Finalize closes the candlestick at the provided price and derives its ratios. A finalized
// candlestick is never modified again.
func (c *Candlestick) Finalize(closePrice float64) {
	if c.Finalized {
		return
	}

	c.Update(closePrice)

	c.Color = Red
	if c.Open < c.Close {
		c.Color = Green
	}

	candleRange := c.High - c.Low
	switch {
	case candleRange == 0:
		c.BodyRatio = 0
		c.WickRatio = 0
		c.RangeToHighRatio = 0
	default:
		c.BodyRatio = (math.Abs(c.Open-c.Close) / candleRange) * 100
		c.WickRatio = 100 - c.BodyRatio
		if c.High != 0 {
			c.RangeToHighRatio = (candleRange / c.High) * 100
		}
	}

	c.Finalized = true
}

// Range returns the high to low range of the candlestick.
func (c *Candlestick) Range() float64 {
	return c.High - c.Low
}
