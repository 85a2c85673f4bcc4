package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
)

// ManagerConfig represents the position manager configuration.
type ManagerConfig struct {
	// Window is the candle window duration.
	Window time.Duration
	// Grace is the period from the start of an entry's candle window before stop losses can
	// be ratcheted.
	Grace time.Duration
	// PollInterval is the interval between live price checks.
	PollInterval time.Duration
	// Location is the locality used for wall-clock alignment.
	Location *time.Location
	// FetchPrice returns the latest known price of the provided instrument and the time it
	// was observed at.
	FetchPrice func(instrument string) (float64, time.Time, bool)
	// Notify sends the provided message.
	Notify func(message string)
	// PersistClosedPosition persists the provided closed position.
	PersistClosedPosition func(position *Position) error
	// OnTransition is called with every monitor state transition. Optional.
	OnTransition func(instrument string, from shared.PositionState, to shared.PositionState)
	// Now returns the current time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Window <= 0 {
		errs = errors.Join(errs, fmt.Errorf("window must be positive"))
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}
	if cfg.FetchPrice == nil {
		errs = errors.Join(errs, fmt.Errorf("fetch price function cannot be nil"))
	}
	if cfg.Notify == nil {
		errs = errors.Join(errs, fmt.Errorf("notify function cannot be nil"))
	}
	if cfg.PersistClosedPosition == nil {
		errs = errors.Join(errs, fmt.Errorf("persist closed position function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager supervises position monitors, one per signalled instrument.
type Manager struct {
	cfg             *ManagerConfig
	monitors        map[string]*Monitor
	monitorsMtx     sync.RWMutex
	closed          map[string]Position
	closedMtx       sync.RWMutex
	reversalSignals chan shared.ReversalSignal
	candleUpdates   chan shared.CandleUpdate
	wg              sync.WaitGroup
}

// NewPositionManager initializes a new position manager.
func NewPositionManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating position manager config: %w", err)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:             cfg,
		monitors:        make(map[string]*Monitor),
		closed:          make(map[string]Position),
		reversalSignals: make(chan shared.ReversalSignal, bufferSize),
		candleUpdates:   make(chan shared.CandleUpdate, bufferSize),
	}, nil
}

// SendReversalSignal relays the provided reversal signal for processing.
func (m *Manager) SendReversalSignal(signal shared.ReversalSignal) {
	select {
	case m.reversalSignals <- signal:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("reversal signal channel at capacity: %d/%d",
			len(m.reversalSignals), bufferSize)
	}
}

// SendCandleUpdate relays the provided candle update for processing.
func (m *Manager) SendCandleUpdate(update shared.CandleUpdate) {
	select {
	case m.candleUpdates <- update:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("candle update channel at capacity: %d/%d",
			len(m.candleUpdates), bufferSize)
	}
}

// State returns the monitoring state of the provided instrument.
func (m *Manager) State(instrument string) shared.PositionState {
	m.monitorsMtx.RLock()
	mon, ok := m.monitors[instrument]
	m.monitorsMtx.RUnlock()

	if !ok {
		return shared.Idle
	}

	return mon.State()
}

// ActiveMonitors returns the number of monitors that have not closed.
func (m *Manager) ActiveMonitors() int {
	m.monitorsMtx.RLock()
	defer m.monitorsMtx.RUnlock()

	var count int
	for _, mon := range m.monitors {
		if mon.State() != shared.Closed {
			count++
		}
	}

	return count
}

// LastClosed returns a copy of the provided instrument's most recently closed position.
func (m *Manager) LastClosed(instrument string) (Position, bool) {
	m.closedMtx.RLock()
	defer m.closedMtx.RUnlock()

	position, ok := m.closed[instrument]
	return position, ok
}

// handleClosedPosition persists and notifies of the provided closed position.
func (m *Manager) handleClosedPosition(position *Position) {
	m.closedMtx.Lock()
	m.closed[position.Instrument] = *position
	m.closedMtx.Unlock()

	err := m.cfg.PersistClosedPosition(position)
	if err != nil {
		m.cfg.Logger.Error().Err(err).Msgf("persisting closed position %s", position.ID)
	}

	msg := fmt.Sprintf("Closed %s position (%s) for %s @ %f, entered @ %f with stoploss %f (%.2f%%)",
		position.Direction.String(), position.ID, position.Instrument, position.ExitPrice,
		position.EntryPrice, position.StopLoss, position.PNLPercent)
	m.cfg.Notify(msg)
}

// handleReversalSignal starts a supervised monitor for the provided reversal signal.
func (m *Manager) handleReversalSignal(ctx context.Context, signal shared.ReversalSignal) {
	m.monitorsMtx.Lock()
	defer m.monitorsMtx.Unlock()

	existing, ok := m.monitors[signal.Instrument]
	if ok && existing.State() != shared.Closed {
		m.cfg.Logger.Warn().Msgf("%s monitor already %s, ignoring %s signal", signal.Instrument,
			existing.State().String(), signal.Kind.String())
		return
	}

	mon, err := NewMonitor(&MonitorConfig{
		Signal:       signal,
		Window:       m.cfg.Window,
		Grace:        m.cfg.Grace,
		PollInterval: m.cfg.PollInterval,
		Location:     m.cfg.Location,
		FetchPrice:   m.cfg.FetchPrice,
		OnTransition: m.cfg.OnTransition,
		OnClosed:     m.handleClosedPosition,
		Now:          m.cfg.Now,
		Logger:       m.cfg.Logger,
	})
	if err != nil {
		m.cfg.Logger.Error().Err(err).Msgf("creating %s monitor", signal.Instrument)
		return
	}

	m.monitors[signal.Instrument] = mon

	m.wg.Add(1)
	go func(mon *Monitor) {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.cfg.Logger.Error().Msgf("%s monitor panicked: %v", signal.Instrument, r)
			}
		}()

		mon.Run(ctx)
	}(mon)

	msg := fmt.Sprintf("Watching %s for an entry after a %s, above %f or below %f",
		signal.Instrument, signal.Kind.String(), signal.SignalHigh, signal.SignalLow)
	m.cfg.Notify(msg)
}

// handleCandleUpdate routes the provided candle update to the instrument's monitor.
func (m *Manager) handleCandleUpdate(update shared.CandleUpdate) {
	m.monitorsMtx.RLock()
	mon, ok := m.monitors[update.Instrument]
	m.monitorsMtx.RUnlock()

	if !ok || !mon.State().Open() {
		return
	}

	mon.SendCandleUpdate(update)
}

// Run manages the lifecycle processes of the position manager. All monitors are awaited
// before it returns.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case signal := <-m.reversalSignals:
			m.handleReversalSignal(ctx, signal)
		case update := <-m.candleUpdates:
			m.handleCandleUpdate(update)
		}
	}
}
