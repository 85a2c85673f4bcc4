package shared

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

func finalizedCandle(open float64, close float64) *Candlestick {
	candle := NewCandlestick("X", open, time.Now(), time.Minute*15)
	candle.Finalize(close)
	return candle
}

func TestCandlestickSnapshot(t *testing.T) {
	// Ensure candle snapshot size cannot be negative or zero.
	_, err := NewCandlestickSnapshot(-1)
	assert.Error(t, err)

	_, err = NewCandlestickSnapshot(0)
	assert.Error(t, err)

	// Ensure a candlestick snapshot can be created.
	snapshot, err := NewCandlestickSnapshot(FinalizedSnapshotSize)
	assert.NoError(t, err)

	// Ensure calling last on an empty snapshot returns nothing.
	assert.Nil(t, snapshot.Last())
	assert.Equal(t, len(snapshot.LastN(FinalizedSnapshotSize)), 0)

	// Ensure calling LastN with zero or negative size returns nil.
	assert.Nil(t, snapshot.LastN(-1))

	// Ensure nil and active candles cannot be added.
	err = snapshot.Update(nil)
	assert.Error(t, err)

	err = snapshot.Update(NewCandlestick("X", 10, time.Now(), time.Minute*15))
	assert.Error(t, err)
	assert.Equal(t, snapshot.Count(), int32(0))

	// Ensure the snapshot can be updated with finalized candles.
	first := finalizedCandle(10, 12)
	second := finalizedCandle(12, 11)
	assert.NoError(t, snapshot.Update(first))
	assert.NoError(t, snapshot.Update(second))
	assert.Equal(t, snapshot.Count(), int32(2))
	assert.Equal(t, snapshot.Last().Close, float64(11))

	// Ensure a clone is unaffected by subsequent updates.
	clone := snapshot.Clone()

	// Ensure updates at capacity evict the oldest entry.
	third := finalizedCandle(11, 15)
	assert.NoError(t, snapshot.Update(third))
	assert.Equal(t, snapshot.Count(), int32(2))
	assert.Equal(t, snapshot.start.Load(), int32(1))

	set := snapshot.LastN(2)
	assert.Equal(t, len(set), 2)
	assert.Equal(t, set[0].Open, float64(12))
	assert.Equal(t, set[1].Open, float64(11))

	// Ensure calling LastN with a larger size than the snapshot gets clamped.
	assert.Equal(t, len(snapshot.LastN(5)), 2)

	cloneSet := clone.LastN(2)
	assert.Equal(t, cloneSet[0].Open, float64(10))
	assert.Equal(t, cloneSet[1].Open, float64(12))
}
