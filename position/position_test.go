package position

import (
	"testing"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/peterldowns/testy/assert"
)

func TestPositionStatusString(t *testing.T) {
	tests := []struct {
		name   string
		status PositionStatus
		want   string
	}{
		{
			name:   "active",
			status: Active,
			want:   "active",
		},
		{
			name:   "stopped out",
			status: StoppedOut,
			want:   "stopped out",
		},
		{
			name:   "closed",
			status: Closed,
			want:   "closed",
		},
		{
			name:   "unknown",
			status: PositionStatus(999),
			want:   "unknown",
		},
	}

	for _, test := range tests {
		str := test.status.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
	}
}

func TestPosition(t *testing.T) {
	now := time.Now()
	signal := shared.NewReversalSignal("X", shared.LowReversal, 105, 95, now)

	// Ensure positions cannot be created with nil signals.
	_, err := NewPosition(nil, shared.Long, 106, 95, now)
	assert.Error(t, err)

	// Ensure positions cannot be created with invalid entry prices.
	_, err = NewPosition(&signal, shared.Long, 0, 95, now)
	assert.Error(t, err)

	// Ensure positions can be created with valid signals.
	position, err := NewPosition(&signal, shared.Long, 106, 95, now)
	assert.NoError(t, err)
	assert.Equal(t, position.Instrument, "X")
	assert.Equal(t, position.Signal, shared.LowReversal)
	assert.Equal(t, position.Status, Active)
	assert.NotEqual(t, position.ID, "")

	// Ensure position's profit and loss can be updated.
	pnl, err := position.UpdatePNLPercent(110)
	assert.NoError(t, err)
	assert.GreaterThan(t, pnl, 0)

	// Ensure a long position closed below its stop loss is stopped out.
	status := position.ClosePosition(94, now.Add(time.Minute))
	assert.Equal(t, status, StoppedOut)
	assert.Equal(t, position.ExitPrice, float64(94))
	assert.True(t, position.PNLPercent < 0)
	assert.Equal(t, position.ClosedOn, uint64(now.Add(time.Minute).Unix()))

	// Ensure a short position closed above its stop loss is stopped out.
	short, err := NewPosition(&signal, shared.Short, 94, 105, now)
	assert.NoError(t, err)
	status = short.ClosePosition(106, now)
	assert.Equal(t, status, StoppedOut)

	// Ensure a position closed within its stop loss is closed.
	short, err = NewPosition(&signal, shared.Short, 94, 105, now)
	assert.NoError(t, err)
	status = short.ClosePosition(90, now)
	assert.Equal(t, status, Closed)
	assert.GreaterThan(t, short.PNLPercent, 0)

	// Ensure unknown directions cannot update profit and loss.
	short.Direction = shared.Direction(999)
	_, err = short.UpdatePNLPercent(90)
	assert.Error(t, err)
}
