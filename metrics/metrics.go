package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the prometheus metrics of the reversal tracker.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal          prometheus.Counter
	StaleTicksTotal     prometheus.Counter
	DroppedTicksTotal   prometheus.Counter
	CandlesTotal        *prometheus.CounterVec // labels: color
	SignalsTotal        *prometheus.CounterVec // labels: kind
	TransitionsTotal    *prometheus.CounterVec // labels: state
	ActiveMonitors      prometheus.Gauge
	FeedReconnectsTotal prometheus.Counter
	JournalErrorsTotal  prometheus.Counter
}

// NewMetrics registers and returns all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reversal_ticks_total",
			Help: "Total ticks aggregated into candles",
		}),
		StaleTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reversal_stale_ticks_total",
			Help: "Ticks older than their instrument's last observed tick",
		}),
		DroppedTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reversal_dropped_ticks_total",
			Help: "Ticks dropped by the intake buffer at capacity",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reversal_candles_total",
			Help: "Total finalized candles (by color)",
		}, []string{"color"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reversal_signals_total",
			Help: "Total reversal signals (by kind)",
		}, []string{"kind"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reversal_position_transitions_total",
			Help: "Position monitor transitions (by entered state)",
		}, []string{"state"}),
		ActiveMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reversal_active_monitors",
			Help: "Position monitors not yet closed",
		}),
		FeedReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reversal_feed_reconnects_total",
			Help: "Total tick stream reconnection attempts",
		}),
		JournalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reversal_journal_errors_total",
			Help: "Closed positions that failed to persist",
		}),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.StaleTicksTotal,
		m.DroppedTicksTotal,
		m.CandlesTotal,
		m.SignalsTotal,
		m.TransitionsTotal,
		m.ActiveMonitors,
		m.FeedReconnectsTotal,
		m.JournalErrorsTotal,
	)

	return m
}

// ObserveTicks records the provided number of aggregated ticks.
func (m *Metrics) ObserveTicks(count int) {
	m.TicksTotal.Add(float64(count))
}

// ObserveStaleTick records a stale tick.
func (m *Metrics) ObserveStaleTick() {
	m.StaleTicksTotal.Inc()
}

// ObserveDroppedTicks records the provided number of dropped ticks.
func (m *Metrics) ObserveDroppedTicks(count int) {
	m.DroppedTicksTotal.Add(float64(count))
}

// ObserveCandle records a finalized candle.
func (m *Metrics) ObserveCandle(candle shared.Candlestick) {
	m.CandlesTotal.WithLabelValues(candle.Color.String()).Inc()
}

// ObserveSignal records a reversal signal.
func (m *Metrics) ObserveSignal(signal shared.ReversalSignal) {
	m.SignalsTotal.WithLabelValues(signal.Kind.String()).Inc()
}

// ObserveTransition records a position monitor transition.
func (m *Metrics) ObserveTransition(instrument string, from shared.PositionState, to shared.PositionState) {
	m.TransitionsTotal.WithLabelValues(to.String()).Inc()

	switch to {
	case shared.WatchingEntry:
		m.ActiveMonitors.Inc()
	case shared.Closed:
		m.ActiveMonitors.Dec()
	}
}

// ObserveFeedReconnect records a tick stream reconnection attempt.
func (m *Metrics) ObserveFeedReconnect() {
	m.FeedReconnectsTotal.Inc()
}

// ObserveJournalError records a failed closed position write.
func (m *Metrics) ObserveJournalError() {
	m.JournalErrorsTotal.Inc()
}

// Handler returns the http handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on the provided address until the provided context is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second * 5,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("metrics server listening on %s", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving metrics: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	}
}
