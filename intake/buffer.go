package intake

import (
	"context"
	"errors"
	"sync"

	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxPending is the default maximum number of ticks held by the buffer.
	DefaultMaxPending = 8192
)

// BufferConfig represents the tick intake buffer configuration.
type BufferConfig struct {
	// MaxPending is the maximum number of undrained ticks held by the buffer.
	MaxPending int
	// OnDropped is called with the size of every batch rejected at capacity. Optional.
	OnDropped func(count int)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Buffer hands off tick batches from the feed to the aggregator. Submitting never blocks, the
// aggregator drains every pending tick in arrival order.
type Buffer struct {
	cfg        *BufferConfig
	pending    []shared.Tick
	pendingMtx sync.Mutex
	notify     chan struct{}
}

// NewBuffer initializes a new tick intake buffer.
func NewBuffer(cfg *BufferConfig) (*Buffer, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}

	return &Buffer{
		cfg:     cfg,
		pending: make([]shared.Tick, 0, cfg.MaxPending),
		notify:  make(chan struct{}, 1),
	}, nil
}

// Submit enqueues the provided tick batch. Batches that would exceed the buffer's capacity are
// dropped whole.
func (b *Buffer) Submit(batch []shared.Tick) bool {
	if len(batch) == 0 {
		return true
	}

	b.pendingMtx.Lock()
	if len(b.pending)+len(batch) > b.cfg.MaxPending {
		pending := len(b.pending)
		b.pendingMtx.Unlock()

		b.cfg.Logger.Error().Msgf("tick buffer at capacity: %d/%d, dropping %d ticks",
			pending, b.cfg.MaxPending, len(batch))
		if b.cfg.OnDropped != nil {
			b.cfg.OnDropped(len(batch))
		}
		return false
	}
	b.pending = append(b.pending, batch...)
	b.pendingMtx.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
		// A wakeup is already pending.
	}

	return true
}

// Len returns the number of undrained ticks.
func (b *Buffer) Len() int {
	b.pendingMtx.Lock()
	defer b.pendingMtx.Unlock()
	return len(b.pending)
}

// Drain blocks until ticks are available or the context is cancelled, then returns every
// pending tick in arrival order.
func (b *Buffer) Drain(ctx context.Context) ([]shared.Tick, error) {
	for {
		b.pendingMtx.Lock()
		if len(b.pending) > 0 {
			batch := b.pending
			b.pending = make([]shared.Tick, 0, cap(batch))
			b.pendingMtx.Unlock()
			return batch, nil
		}
		b.pendingMtx.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
			// Recheck pending ticks.
		}
	}
}
