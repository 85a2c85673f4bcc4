package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	// Ensure tick observations are counted.
	m.ObserveTicks(3)
	m.ObserveStaleTick()
	m.ObserveDroppedTicks(2)
	assert.Equal(t, testutil.ToFloat64(m.TicksTotal), float64(3))
	assert.Equal(t, testutil.ToFloat64(m.StaleTicksTotal), float64(1))
	assert.Equal(t, testutil.ToFloat64(m.DroppedTicksTotal), float64(2))

	// Ensure candles and signals are counted by label.
	m.ObserveCandle(shared.Candlestick{Color: shared.Red})
	m.ObserveCandle(shared.Candlestick{Color: shared.Red})
	m.ObserveSignal(shared.NewReversalSignal("X", shared.LowReversal, 105, 95, time.Now()))
	assert.Equal(t, testutil.ToFloat64(m.CandlesTotal.WithLabelValues("red")), float64(2))
	assert.Equal(t, testutil.ToFloat64(m.CandlesTotal.WithLabelValues("green")), float64(0))
	assert.Equal(t, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("day low reversal")), float64(1))

	// Ensure transitions track active monitors.
	m.ObserveTransition("X", shared.Idle, shared.WatchingEntry)
	m.ObserveTransition("Y", shared.Idle, shared.WatchingEntry)
	m.ObserveTransition("X", shared.WatchingEntry, shared.LongOpen)
	m.ObserveTransition("X", shared.LongOpen, shared.Closed)
	assert.Equal(t, testutil.ToFloat64(m.ActiveMonitors), float64(1))
	assert.Equal(t, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("watching entry")), float64(2))

	m.ObserveFeedReconnect()
	m.ObserveJournalError()
	assert.Equal(t, testutil.ToFloat64(m.FeedReconnectsTotal), float64(1))
	assert.Equal(t, testutil.ToFloat64(m.JournalErrorsTotal), float64(1))

	// Ensure the metrics are exposed.
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.True(t, strings.Contains(rec.Body.String(), "reversal_ticks_total 3"))
	assert.True(t, strings.Contains(rec.Body.String(), "reversal_active_monitors 1"))
}

func TestServe(t *testing.T) {
	m := NewMetrics()

	// Ensure the metrics server shuts down on cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Serve(ctx, "127.0.0.1:0", &log.Logger)
	}()

	time.Sleep(time.Millisecond * 50)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second * 10):
		t.Fatal("expected metrics server to shut down")
	}
}
