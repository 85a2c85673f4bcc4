package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/reversal/intake"
	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
)

// ManagerConfig represents the candle aggregator configuration.
type ManagerConfig struct {
	// Window is the candle window duration, aligned to wall-clock boundaries.
	Window time.Duration
	// Location is the locality used for wall-clock window alignment.
	Location *time.Location
	// MaxPendingTicks is the maximum number of ticks held by the intake buffer.
	MaxPendingTicks int
	// EvaluatePattern evaluates the provided instrument state for a reversal pattern.
	EvaluatePattern func(state *shared.InstrumentState)
	// RelayCandleUpdate relays the provided finalized candle update for position monitoring.
	RelayCandleUpdate func(update shared.CandleUpdate)
	// OnFinalized is called with every finalized candle. Optional.
	OnFinalized func(candle shared.Candlestick)
	// OnTicks is called with the size of every ingested tick batch. Optional.
	OnTicks func(count int)
	// OnStaleTick is called for every tick older than its instrument's last observed tick. Optional.
	OnStaleTick func()
	// OnDroppedTicks is called with the size of every tick batch dropped at capacity. Optional.
	OnDroppedTicks func(count int)
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	err := shared.ValidateWindow(cfg.Window)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}
	if cfg.EvaluatePattern == nil {
		errs = errors.Join(errs, fmt.Errorf("evaluate pattern function cannot be nil"))
	}
	if cfg.RelayCandleUpdate == nil {
		errs = errors.Join(errs, fmt.Errorf("relay candle update function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager aggregates ticks into candles for all observed instruments.
type Manager struct {
	cfg            *ManagerConfig
	ticks          *intake.Buffer
	instruments    map[string]*Instrument
	instrumentsMtx sync.RWMutex
}

// NewManager initializes a new candle aggregation manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating market manager config: %w", err)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ticks, err := intake.NewBuffer(&intake.BufferConfig{
		MaxPending: cfg.MaxPendingTicks,
		OnDropped:  cfg.OnDroppedTicks,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tick buffer: %w", err)
	}

	return &Manager{
		cfg:         cfg,
		ticks:       ticks,
		instruments: make(map[string]*Instrument),
	}, nil
}

// instrument returns the tracked instrument with the provided id, creating it if it is not
// tracked yet.
func (m *Manager) instrument(id string) (*Instrument, error) {
	m.instrumentsMtx.RLock()
	inst, ok := m.instruments[id]
	m.instrumentsMtx.RUnlock()
	if ok {
		return inst, nil
	}

	m.instrumentsMtx.Lock()
	defer m.instrumentsMtx.Unlock()

	inst, ok = m.instruments[id]
	if ok {
		return inst, nil
	}

	inst, err := NewInstrument(id)
	if err != nil {
		return nil, err
	}

	m.instruments[id] = inst
	return inst, nil
}

// lookup returns the tracked instrument with the provided id.
func (m *Manager) lookup(id string) (*Instrument, bool) {
	m.instrumentsMtx.RLock()
	defer m.instrumentsMtx.RUnlock()

	inst, ok := m.instruments[id]
	return inst, ok
}

// SubmitTicks records the latest prices of the provided tick batch and queues it for
// aggregation. It never blocks and returns false if the batch was dropped at capacity.
func (m *Manager) SubmitTicks(batch []shared.Tick) bool {
	for idx := range batch {
		tick := &batch[idx]
		if tick.ObservedAt.IsZero() {
			tick.ObservedAt = m.cfg.Now()
		}

		inst, err := m.instrument(tick.Instrument)
		if err != nil {
			m.cfg.Logger.Error().Msgf("fetching instrument %s: %v", tick.Instrument, err)
			continue
		}

		inst.setPrice(*tick)
	}

	return m.ticks.Submit(batch)
}

// Pending returns the number of submitted ticks awaiting aggregation.
func (m *Manager) Pending() int {
	return m.ticks.Len()
}

// FetchPrice returns the latest known price of the provided instrument along with the time
// it was observed at. It returns false if no price has been observed for the instrument yet.
func (m *Manager) FetchPrice(id string) (float64, time.Time, bool) {
	inst, ok := m.lookup(id)
	if !ok {
		return 0, time.Time{}, false
	}

	return inst.Price()
}

// FetchState returns a snapshot of the provided instrument's state and active candle.
func (m *Manager) FetchState(id string) (shared.InstrumentState, *shared.Candlestick, bool) {
	inst, ok := m.lookup(id)
	if !ok {
		return shared.InstrumentState{}, nil, false
	}

	state, active := inst.Snapshot()
	return state, active, true
}

// ResetSession clears the session state of all tracked instruments.
func (m *Manager) ResetSession() {
	m.instrumentsMtx.RLock()
	defer m.instrumentsMtx.RUnlock()

	for id := range m.instruments {
		m.instruments[id].resetSession()
	}

	m.cfg.Logger.Info().Msgf("session reset for %d instruments", len(m.instruments))
}

// Ingest applies the provided tick batch to the candles of their instruments, in order.
func (m *Manager) Ingest(batch []shared.Tick) {
	if m.cfg.OnTicks != nil {
		m.cfg.OnTicks(len(batch))
	}

	for idx := range batch {
		tick := batch[idx]
		inst, err := m.instrument(tick.Instrument)
		if err != nil {
			m.cfg.Logger.Error().Msgf("fetching instrument %s: %v", tick.Instrument, err)
			continue
		}

		inst.mtx.Lock()
		m.apply(inst, tick)
		inst.mtx.Unlock()
	}
}

// apply incorporates the provided tick into the instrument's active candle, finalizing it
// when its window has elapsed. The instrument's mutex must be held.
func (m *Manager) apply(inst *Instrument, tick shared.Tick) {
	at := tick.ObservedAt
	if at.IsZero() {
		at = m.cfg.Now()
	}
	at = at.In(m.cfg.Location)

	if inst.active == nil {
		inst.active = shared.NewCandlestick(inst.id, tick.Price, at, m.cfg.Window)
		inst.lastTickAt = at
		inst.state.Widen(tick.Price)
		return
	}

	if at.Before(inst.lastTickAt) {
		// Late ticks only ever affect the active candle.
		if m.cfg.OnStaleTick != nil {
			m.cfg.OnStaleTick()
		}
		m.cfg.Logger.Debug().Msgf("stale %s tick at %s, last observed at %s", inst.id,
			at.Format(shared.DateLayout), inst.lastTickAt.Format(shared.DateLayout))

		inst.active.Update(tick.Price)
		inst.state.Widen(tick.Price)
		return
	}

	inst.lastTickAt = at

	if !inst.active.Elapsed(at) {
		inst.active.Update(tick.Price)
		inst.state.Widen(tick.Price)
		return
	}

	m.finalize(inst, tick.Price, at)
}

// finalize closes the instrument's active candle at the provided price and opens the next one.
// The instrument's mutex must be held.
func (m *Manager) finalize(inst *Instrument, closePrice float64, at time.Time) {
	candle := inst.active
	candle.Finalize(closePrice)

	err := inst.state.Finalized.Update(candle)
	if err != nil {
		m.cfg.Logger.Error().Msgf("updating %s finalized candles: %v", inst.id, err)
	}

	inst.state.Widen(candle.High)
	inst.state.Widen(candle.Low)

	m.logCandle(inst, candle)

	if m.cfg.OnFinalized != nil {
		m.cfg.OnFinalized(*candle)
	}

	if !inst.state.Flagged() {
		m.cfg.EvaluatePattern(inst.state)
	}

	m.cfg.RelayCandleUpdate(shared.CandleUpdate{
		Instrument: inst.id,
		Candle:     *candle,
		DayHigh:    inst.state.DayHigh,
		DayLow:     inst.state.DayLow,
	})

	inst.active = shared.NewCandlestick(inst.id, closePrice, at, m.cfg.Window)
}

// logCandle logs the provided finalized candle along with the instrument's day extremes.
func (m *Manager) logCandle(inst *Instrument, candle *shared.Candlestick) {
	m.cfg.Logger.Info().
		Str("instrument", inst.id).
		Float64("open", candle.Open).
		Float64("high", candle.High).
		Float64("low", candle.Low).
		Float64("close", candle.Close).
		Str("color", candle.Color.String()).
		Float64("bodyratio", candle.BodyRatio).
		Float64("wickratio", candle.WickRatio).
		Float64("rangetohighratio", candle.RangeToHighRatio).
		Float64("dayhigh", inst.state.DayHigh).
		Float64("daylow", inst.state.DayLow).
		Time("start", candle.Start).
		Time("end", candle.End).
		Msg("candle finalized")
}

// Run manages the lifecycle processes of the candle aggregator. Ticks are applied by this
// single consumer, serializing all candle mutation.
func (m *Manager) Run(ctx context.Context) {
	for {
		batch, err := m.ticks.Drain(ctx)
		if err != nil {
			return
		}

		m.Ingest(batch)
	}
}
