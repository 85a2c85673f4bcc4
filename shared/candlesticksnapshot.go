package shared

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

const (
	// FinalizedSnapshotSize is the number of finalized candlesticks tracked per instrument.
	FinalizedSnapshotSize = 2
)

// CandlestickSnapshot represents a bounded snapshot of finalized candlesticks, oldest first.
type CandlestickSnapshot struct {
	data    []*Candlestick
	dataMtx sync.RWMutex
	start   atomic.Int32
	count   atomic.Int32
	size    atomic.Int32
}

// NewCandlestickSnapshot initializes a new candlestick snapshot.
func NewCandlestickSnapshot(size int32) (*CandlestickSnapshot, error) {
	if size < 0 {
		return nil, errors.New("snapshot size cannot be negative")
	}
	if size == 0 {
		return nil, errors.New("snapshot size cannot be zero")
	}

	snapshot := &CandlestickSnapshot{
		data: make([]*Candlestick, size),
	}

	snapshot.size.Store(size)
	return snapshot, nil
}

// Update adds the provided finalized candlestick to the snapshot, evicting the oldest entry
// when at capacity.
func (s *CandlestickSnapshot) Update(candle *Candlestick) error {
	if candle == nil {
		return errors.New("candlestick cannot be nil")
	}
	if !candle.Finalized {
		return fmt.Errorf("unexpected active candlestick provided for %s", candle.Instrument)
	}

	s.dataMtx.Lock()
	defer s.dataMtx.Unlock()

	start := s.start.Load()
	count := s.count.Load()
	size := s.size.Load()
	end := (start + count) % size
	s.data[end] = candle

	if count == size {
		// Overwrite the oldest entry when the snapshot is at capacity.
		s.start.Store((start + 1) % size)
	} else {
		s.count.Add(1)
	}

	return nil
}

// Count returns the number of entries in the snapshot.
func (s *CandlestickSnapshot) Count() int32 {
	return s.count.Load()
}

// Last returns the last added entry for the snapshot.
func (s *CandlestickSnapshot) Last() *Candlestick {
	s.dataMtx.RLock()
	defer s.dataMtx.RUnlock()

	start := s.start.Load()
	count := s.count.Load()
	size := s.size.Load()
	if count == 0 {
		return nil
	}

	end := (start + count - 1) % size
	return s.data[end]
}

// LastN fetches the last n number of elements from the snapshot, oldest first.
func (s *CandlestickSnapshot) LastN(n int32) []*Candlestick {
	s.dataMtx.RLock()
	defer s.dataMtx.RUnlock()

	if n <= 0 {
		return nil
	}

	start := s.start.Load()
	count := s.count.Load()
	size := s.size.Load()

	// Clamp the number of elements expected if it is greater than the snapshot count.
	if n > count {
		n = count
	}

	set := make([]*Candlestick, n)
	start = (start + count - n + size) % size

	for i := range n {
		idx := (start + i) % size
		set[i] = s.data[idx]
	}

	return set
}

// Clone returns a copy of the snapshot. Entries are finalized and shared between copies.
func (s *CandlestickSnapshot) Clone() *CandlestickSnapshot {
	s.dataMtx.RLock()
	defer s.dataMtx.RUnlock()

	clone := &CandlestickSnapshot{
		data: make([]*Candlestick, len(s.data)),
	}
	copy(clone.data, s.data)
	clone.start.Store(s.start.Load())
	clone.count.Store(s.count.Load())
	clone.size.Store(s.size.Load())

	return clone
}
