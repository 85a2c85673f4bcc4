package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// DefaultPollInterval is the default interval between live price checks.
	DefaultPollInterval = time.Millisecond * 500
	// DefaultGracePeriod is the default period after an entry's candle window start before
	// stop losses can be ratcheted.
	DefaultGracePeriod = time.Minute * 30
)

// MonitorConfig represents the position monitor configuration.
type MonitorConfig struct {
	// Signal is the reversal signal being watched for an entry.
	Signal shared.ReversalSignal
	// Window is the candle window duration.
	Window time.Duration
	// Grace is the period from the start of the entry's candle window before stop losses
	// can be ratcheted.
	Grace time.Duration
	// PollInterval is the interval between live price checks.
	PollInterval time.Duration
	// Location is the locality used for wall-clock alignment.
	Location *time.Location
	// FetchPrice returns the latest known price of the provided instrument and the time it
	// was observed at.
	FetchPrice func(instrument string) (float64, time.Time, bool)
	// OnTransition is called with every state transition. Optional.
	OnTransition func(instrument string, from shared.PositionState, to shared.PositionState)
	// OnClosed is called with the position closed by the monitor.
	OnClosed func(position *Position)
	// Now returns the current time, used when a price or candle carries no time.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *MonitorConfig) Validate() error {
	var errs error

	if cfg.Signal.Instrument == "" {
		errs = errors.Join(errs, fmt.Errorf("signal instrument cannot be empty"))
	}
	if cfg.Signal.SignalHigh < cfg.Signal.SignalLow {
		errs = errors.Join(errs, fmt.Errorf("signal high %f cannot be below signal low %f",
			cfg.Signal.SignalHigh, cfg.Signal.SignalLow))
	}
	if cfg.Window <= 0 {
		errs = errors.Join(errs, fmt.Errorf("window must be positive"))
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}
	if cfg.FetchPrice == nil {
		errs = errors.Join(errs, fmt.Errorf("fetch price function cannot be nil"))
	}
	if cfg.OnClosed == nil {
		errs = errors.Join(errs, fmt.Errorf("on closed function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Monitor watches a single instrument's reversal signal through entry, stop ratcheting and
// exit. The monitor's goroutine is the sole writer of its position, stop loss and state.
type Monitor struct {
	cfg      *MonitorConfig
	state    atomic.Uint32
	stop     float64
	graceEnd time.Time
	position *Position
	price    float64
	priceAt  time.Time
	priceSet bool
	candles  chan shared.CandleUpdate
	logger   zerolog.Logger
}

// NewMonitor initializes a new position monitor watching the configured signal for an entry.
func NewMonitor(cfg *MonitorConfig) (*Monitor, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating monitor config: %w", err)
	}

	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGracePeriod
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Monitor{
		cfg:     cfg,
		candles: make(chan shared.CandleUpdate, 1),
		logger:  cfg.Logger.With().Str("instrument", cfg.Signal.Instrument).Logger(),
	}

	err = m.transition(shared.WatchingEntry)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// State returns the current state of the monitor.
func (m *Monitor) State() shared.PositionState {
	return shared.PositionState(m.state.Load())
}

// transition moves the monitor to the provided state.
func (m *Monitor) transition(next shared.PositionState) error {
	current := m.State()
	if !current.CanTransitionTo(next) {
		m.logger.Error().Msgf("unexpected transition from %s to %s: %s", current.String(),
			next.String(), spew.Sdump(m.position))
		return fmt.Errorf("invalid transition from %s to %s", current.String(), next.String())
	}

	m.state.Store(uint32(next))

	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(m.cfg.Signal.Instrument, current, next)
	}

	return nil
}

// SendCandleUpdate relays the provided candle update to the monitor. Only the latest
// undelivered update is kept.
func (m *Monitor) SendCandleUpdate(update shared.CandleUpdate) {
	for {
		select {
		case m.candles <- update:
			return
		default:
			select {
			case <-m.candles:
			default:
			}
		}
	}
}

// enter opens a position in the provided direction.
func (m *Monitor) enter(direction shared.Direction, price float64, stop float64, at time.Time) error {
	next := shared.LongOpen
	if direction == shared.Short {
		next = shared.ShortOpen
	}

	position, err := NewPosition(&m.cfg.Signal, direction, price, stop, at)
	if err != nil {
		return fmt.Errorf("creating %s position: %w", direction.String(), err)
	}

	err = m.transition(next)
	if err != nil {
		return err
	}

	m.position = position
	m.stop = stop
	m.graceEnd = shared.WindowStart(at.In(m.cfg.Location), m.cfg.Window).Add(m.cfg.Grace)

	m.logger.Info().
		Str("position", position.ID).
		Str("direction", direction.String()).
		Float64("entry", price).
		Float64("stoploss", stop).
		Time("graceend", m.graceEnd).
		Msg("position entered")

	return nil
}

// exit closes the open position at the provided price.
func (m *Monitor) exit(price float64, at time.Time) error {
	err := m.transition(shared.Closed)
	if err != nil {
		return err
	}

	status := m.position.ClosePosition(price, at)

	m.logger.Info().
		Str("position", m.position.ID).
		Str("direction", m.position.Direction.String()).
		Str("status", status.String()).
		Float64("entry", m.position.EntryPrice).
		Float64("exit", price).
		Float64("stoploss", m.stop).
		Float64("pnl", m.position.PNLPercent).
		Msg("position exited")

	m.cfg.OnClosed(m.position)

	return nil
}

// handlePrice applies the provided live price, observed at the provided time, to the
// monitor's state machine.
func (m *Monitor) handlePrice(price float64, at time.Time) error {
	m.price = price
	m.priceAt = at
	m.priceSet = true

	switch m.State() {
	case shared.WatchingEntry:
		switch {
		case price > m.cfg.Signal.SignalHigh:
			return m.enter(shared.Long, price, m.cfg.Signal.SignalLow, at)
		case price < m.cfg.Signal.SignalLow:
			return m.enter(shared.Short, price, m.cfg.Signal.SignalHigh, at)
		}

	case shared.LongOpen:
		_, _ = m.position.UpdatePNLPercent(price)
		if price < m.stop {
			return m.exit(price, at)
		}

	case shared.ShortOpen:
		_, _ = m.position.UpdatePNLPercent(price)
		if price > m.stop {
			return m.exit(price, at)
		}
	}

	return nil
}

// handleCandle ratchets the stop loss of an open position using the provided candle update
// once the grace period has elapsed at the provided candle close.
func (m *Monitor) handleCandle(update shared.CandleUpdate, at time.Time) {
	if update.Instrument != m.cfg.Signal.Instrument {
		return
	}

	state := m.State()
	if !state.Open() || at.Before(m.graceEnd) {
		return
	}

	prev := m.stop
	switch {
	case state == shared.LongOpen && update.Candle.Color == shared.Red:
		m.stop = update.Candle.Low
	case state == shared.ShortOpen && update.Candle.Color == shared.Green:
		m.stop = update.Candle.High
	default:
		return
	}

	m.position.StopLoss = m.stop

	m.logger.Info().
		Str("position", m.position.ID).
		Str("direction", m.position.Direction.String()).
		Float64("previous", prev).
		Float64("stoploss", m.stop).
		Msg("stop loss ratcheted")
}

// shutdown closes any open position at the last observed price.
func (m *Monitor) shutdown() {
	state := m.State()
	switch {
	case state.Open() && m.priceSet:
		err := m.exit(m.price, m.priceAt)
		if err != nil {
			m.logger.Error().Err(err).Msg("closing position on shutdown")
		}
	case state == shared.WatchingEntry:
		m.logger.Info().Msg("shutting down without an entry")
	}
}

// observedAt returns the provided time, falling back to the current time when it is unset.
func (m *Monitor) observedAt(at time.Time) time.Time {
	if at.IsZero() {
		return m.cfg.Now()
	}

	return at
}

// Run polls the live price of the monitored instrument and processes candle updates until the
// monitor is closed or the provided context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if m.State() == shared.Closed {
			return
		}

		select {
		case <-ctx.Done():
			m.shutdown()
			return

		case update := <-m.candles:
			m.handleCandle(update, m.observedAt(update.Candle.End))

		case <-ticker.C:
			price, at, ok := m.cfg.FetchPrice(m.cfg.Signal.Instrument)
			if !ok {
				m.logger.Debug().Msg("no price data yet")
				continue
			}

			err := m.handlePrice(price, m.observedAt(at))
			if err != nil {
				m.logger.Error().Err(err).Msg("handling price update")
			}
		}
	}
}
