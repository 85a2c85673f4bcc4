package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dnldd/reversal/database"
	"github.com/dnldd/reversal/engine"
	"github.com/dnldd/reversal/feed"
	"github.com/dnldd/reversal/market"
	"github.com/dnldd/reversal/metrics"
	"github.com/dnldd/reversal/position"
	"github.com/dnldd/reversal/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// journalTimeout is the maximum duration of a closed position write.
	journalTimeout = time.Second * 5
	// drainPollInterval is the interval between intake buffer checks once a replay is done.
	drainPollInterval = time.Millisecond * 50
)

// ReversalConfig represents the configuration struct for the reversal service.
type ReversalConfig struct {
	// Instruments represents the tracked instruments. All streamed instruments are tracked
	// when empty.
	Instruments []string
	// Window is the candle window duration.
	Window time.Duration
	// Grace is the period from the start of an entry's candle window before stop losses can
	// be ratcheted.
	Grace time.Duration
	// PollInterval is the interval between live price checks of position monitors.
	PollInterval time.Duration
	// TolerancePercent is the maximum percentage distance for a price to be considered close
	// to a day extreme.
	TolerancePercent float64
	// Location is the locality used for wall-clock alignment.
	Location *time.Location
	// SessionReset is the time of day (HH:MM) session state is reset. No reset is scheduled
	// when empty.
	SessionReset string
	// ReplayFilePath is the filepath to recorded ticks to replay.
	ReplayFilePath string
	// ReplayBatchSize is the number of ticks submitted per replayed batch.
	ReplayBatchSize int
	// ReplayInterval is the wait between replayed tick batches.
	ReplayInterval time.Duration
	// StreamURL is the websocket endpoint streaming live ticks.
	StreamURL string
	// JournalEndpoint is the closed position journal endpoint. Closed positions are not
	// persisted when empty.
	JournalEndpoint string
	// JournalUser is the closed position journal user.
	JournalUser string
	// JournalPass is the closed position journal user pass.
	JournalPass string
	// MetricsAddr is the address metrics are served on. Metrics are not served when empty.
	MetricsAddr string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ReversalConfig) Validate() error {
	var errs error

	err := shared.ValidateWindow(cfg.Window)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}
	if cfg.SessionReset != "" {
		_, err := time.Parse(shared.SessionTimeLayout, cfg.SessionReset)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("session reset must be formatted as HH:MM, got '%s'",
				cfg.SessionReset))
		}
	}
	switch {
	case cfg.ReplayFilePath == "" && cfg.StreamURL == "":
		errs = errors.Join(errs, fmt.Errorf("either a replay file or a stream url must be provided"))
	case cfg.ReplayFilePath != "" && cfg.StreamURL != "":
		errs = errors.Join(errs, fmt.Errorf("only one of a replay file or a stream url can be provided"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Reversal represents a day extreme reversal tracking service.
type Reversal struct {
	cfg             *ReversalConfig
	marketManager   *market.Manager
	positionManager *position.Manager
	engine          *engine.Engine
	replay          *feed.Replay
	stream          *feed.Stream
	journal         *database.Database
	metrics         *metrics.Metrics
	jobScheduler    *gocron.Scheduler
	logger          *zerolog.Logger
	wg              sync.WaitGroup
}

// NewReversal initializes a new reversal service.
func NewReversal(ctx context.Context, cfg *ReversalConfig) (*Reversal, error) {
	var err error
	var marketMgr *market.Manager
	var positionMgr *position.Manager
	var reversalEngine *engine.Engine
	var journal *database.Database

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating reversal config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := cfg.Logger.With().Str("service", "reversal").Logger()
	stats := metrics.NewMetrics()

	if cfg.JournalEndpoint != "" {
		journalLogger := logger.With().Str("component", "journal").Logger()
		journal, err = database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.JournalEndpoint,
			User:     cfg.JournalUser,
			Pass:     cfg.JournalPass,
			Location: cfg.Location,
			Logger:   &journalLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating journal: %w", err)
		}
	}

	signalReversalFunc := func(signal shared.ReversalSignal) {
		stats.ObserveSignal(signal)
		if positionMgr != nil {
			positionMgr.SendReversalSignal(signal)
		}
	}

	evaluatePatternFunc := func(state *shared.InstrumentState) {
		if reversalEngine != nil {
			reversalEngine.Evaluate(state)
		}
	}

	relayCandleUpdateFunc := func(update shared.CandleUpdate) {
		if positionMgr != nil {
			positionMgr.SendCandleUpdate(update)
		}
	}

	notifyLogger := logger.With().Str("component", "notifier").Logger()
	notifyFunc := func(message string) {
		notifyLogger.Info().Msg(message)
	}

	persistClosedPositionFunc := func(pos *position.Position) error {
		if journal == nil {
			return nil
		}

		journalCtx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()

		err := journal.PersistClosedPosition(journalCtx, pos)
		if err != nil {
			stats.ObserveJournalError()
			return err
		}

		return nil
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	reversalEngine = engine.NewEngine(&engine.EngineConfig{
		TolerancePercent: cfg.TolerancePercent,
		SignalReversal:   signalReversalFunc,
		Logger:           &engineLogger,
	})

	marketMgrLogger := logger.With().Str("component", "marketmanager").Logger()
	marketMgr, err = market.NewManager(&market.ManagerConfig{
		Window:            cfg.Window,
		Location:          cfg.Location,
		EvaluatePattern:   evaluatePatternFunc,
		RelayCandleUpdate: relayCandleUpdateFunc,
		OnFinalized:       stats.ObserveCandle,
		OnTicks:           stats.ObserveTicks,
		OnStaleTick:       stats.ObserveStaleTick,
		OnDroppedTicks:    stats.ObserveDroppedTicks,
		Logger:            &marketMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating market manager: %w", err)
	}

	positionMgrLogger := logger.With().Str("component", "positionmanager").Logger()
	positionMgr, err = position.NewPositionManager(&position.ManagerConfig{
		Window:                cfg.Window,
		Grace:                 cfg.Grace,
		PollInterval:          cfg.PollInterval,
		Location:              cfg.Location,
		FetchPrice:            marketMgr.FetchPrice,
		Notify:                notifyFunc,
		PersistClosedPosition: persistClosedPositionFunc,
		OnTransition:          stats.ObserveTransition,
		Logger:                &positionMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating position manager: %w", err)
	}

	submitTicksFunc := func(batch []shared.Tick) bool {
		if len(cfg.Instruments) == 0 {
			return marketMgr.SubmitTicks(batch)
		}

		tracked := make([]shared.Tick, 0, len(batch))
		for idx := range batch {
			if slices.Contains(cfg.Instruments, batch[idx].Instrument) {
				tracked = append(tracked, batch[idx])
			}
		}

		return marketMgr.SubmitTicks(tracked)
	}

	var replay *feed.Replay
	var stream *feed.Stream
	feedLogger := logger.With().Str("component", "feed").Logger()
	switch {
	case cfg.ReplayFilePath != "":
		replay, err = feed.NewReplay(&feed.ReplayConfig{
			FilePath:    cfg.ReplayFilePath,
			BatchSize:   cfg.ReplayBatchSize,
			Interval:    cfg.ReplayInterval,
			Location:    cfg.Location,
			SubmitTicks: submitTicksFunc,
			Logger:      &feedLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating replay: %w", err)
		}
	default:
		stream, err = feed.NewStream(&feed.StreamConfig{
			URL:         cfg.StreamURL,
			Location:    cfg.Location,
			SubmitTicks: submitTicksFunc,
			OnReconnect: stats.ObserveFeedReconnect,
			Logger:      &feedLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating stream: %w", err)
		}
	}

	jobScheduler := gocron.NewScheduler(cfg.Location)
	if cfg.SessionReset != "" {
		_, err = jobScheduler.Every(1).Day().At(cfg.SessionReset).Do(marketMgr.ResetSession)
		if err != nil {
			return nil, fmt.Errorf("scheduling session reset: %w", err)
		}
	}

	service := &Reversal{
		cfg:             cfg,
		marketManager:   marketMgr,
		positionManager: positionMgr,
		engine:          reversalEngine,
		replay:          replay,
		stream:          stream,
		journal:         journal,
		metrics:         stats,
		jobScheduler:    jobScheduler,
		logger:          &logger,
	}

	return service, nil
}

// awaitDrained waits for all submitted ticks to be aggregated and for position monitors to
// observe the latest prices.
func (r *Reversal) awaitDrained(ctx context.Context) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for r.marketManager.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	pollInterval := r.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = position.DefaultPollInterval
	}

	select {
	case <-ctx.Done():
	case <-time.After(pollInterval * 4):
	}
}

// Run handles the lifecycle processes of the reversal service.
func (r *Reversal) Run(ctx context.Context) {
	r.wg.Add(3)

	go func() {
		r.positionManager.Run(ctx)
		r.wg.Done()
	}()

	go func() {
		r.marketManager.Run(ctx)
		r.wg.Done()
	}()

	go func() {
		r.jobScheduler.StartAsync()
		<-ctx.Done()
		r.jobScheduler.Stop()
		r.wg.Done()
	}()

	if r.cfg.MetricsAddr != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			err := r.metrics.Serve(ctx, r.cfg.MetricsAddr, r.logger)
			if err != nil {
				r.logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	r.wg.Add(1)
	switch {
	case r.replay != nil:
		go func() {
			defer r.wg.Done()
			err := r.replay.Run(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("replay interrupted")
				return
			}

			r.awaitDrained(ctx)
			r.logger.Info().Msgf("replay of %s done", r.cfg.ReplayFilePath)
			r.cfg.Cancel()
		}()
	default:
		go func() {
			defer r.wg.Done()
			r.stream.Run(ctx)
		}()
	}

	r.wg.Wait()
}
