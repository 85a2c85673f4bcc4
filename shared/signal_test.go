package shared

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func TestReversalKindString(t *testing.T) {
	tests := []struct {
		name string
		kind ReversalKind
		want string
	}{
		{"low reversal", LowReversal, "day low reversal"},
		{"high reversal", HighReversal, "day high reversal"},
		{"unknown", ReversalKind(9), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind.String(), tt.want)
		})
	}
}

func TestNewReversalSignal(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

	// Ensure reversal signals carry their entry thresholds.
	signal := NewReversalSignal("NIFTY", LowReversal, float64(22510), float64(22440), now)
	assert.Equal(t, signal.Instrument, "NIFTY")
	assert.Equal(t, signal.Kind, LowReversal)
	assert.Equal(t, signal.SignalHigh, float64(22510))
	assert.Equal(t, signal.SignalLow, float64(22440))
	assert.Equal(t, signal.CreatedOn, now)
}
