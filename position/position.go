package position

import (
	"fmt"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/google/uuid"
)

// PositionStatus represents the status of a position.
type PositionStatus int

const (
	Active PositionStatus = iota
	StoppedOut
	Closed
)

// String stringifies the provided position status.
func (s *PositionStatus) String() string {
	switch *s {
	case Active:
		return "active"
	case StoppedOut:
		return "stopped out"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position represents a hypothetical position entered on a reversal signal.
type Position struct {
	ID         string
	Instrument string
	Signal     shared.ReversalKind
	Direction  shared.Direction
	StopLoss   float64
	PNLPercent float64
	EntryPrice float64
	ExitPrice  float64
	Status     PositionStatus
	CreatedOn  uint64
	ClosedOn   uint64
}

// NewPosition initializes a new position entered at the provided price.
func NewPosition(signal *shared.ReversalSignal, direction shared.Direction, price float64, stopLoss float64, at time.Time) (*Position, error) {
	if signal == nil {
		return nil, fmt.Errorf("reversal signal cannot be nil")
	}
	if price <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %f", price)
	}

	pos := &Position{
		ID:         uuid.New().String(),
		Instrument: signal.Instrument,
		Signal:     signal.Kind,
		Direction:  direction,
		StopLoss:   stopLoss,
		EntryPrice: price,
		Status:     Active,
		CreatedOn:  uint64(at.Unix()),
	}

	return pos, nil
}

// ClosePosition closes the position at the provided exit price.
func (p *Position) ClosePosition(price float64, at time.Time) PositionStatus {
	p.ClosedOn = uint64(at.Unix())
	p.ExitPrice = price
	_, _ = p.UpdatePNLPercent(price)

	switch {
	case p.ExitPrice > p.StopLoss && p.Direction == shared.Short:
		p.Status = StoppedOut
	case p.ExitPrice < p.StopLoss && p.Direction == shared.Long:
		p.Status = StoppedOut
	default:
		p.Status = Closed
	}

	return p.Status
}

// UpdatePNLPercent updates the percentage change of the position given the current price.
func (p *Position) UpdatePNLPercent(currentPrice float64) (float64, error) {
	switch {
	case p.Direction == shared.Long:
		p.PNLPercent = ((currentPrice - p.EntryPrice) / p.EntryPrice) * 100
	case p.Direction == shared.Short:
		p.PNLPercent = ((p.EntryPrice - currentPrice) / p.EntryPrice) * 100
	default:
		return 0, fmt.Errorf("unknown direction for position: %s", p.Direction.String())
	}

	return p.PNLPercent, nil
}
