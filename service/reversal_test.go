package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

// replayData holds a red candle followed by a green candle at the day low for X, the first
// ticks of the following window and a tick for the untracked Y.
const replayData = `{"ticks":[
	{"instrument":"X","price":100,"time":"2024-05-02T09:00:00Z"},
	{"instrument":"X","price":101,"time":"2024-05-02T09:05:00Z"},
	{"instrument":"X","price":95,"time":"2024-05-02T09:10:00Z"},
	{"instrument":"X","price":96,"time":"2024-05-02T09:15:00Z"},
	{"instrument":"X","price":94,"time":"2024-05-02T09:20:00Z"},
	{"instrument":"X","price":97,"time":"2024-05-02T09:25:00Z"},
	{"instrument":"X","price":98,"time":"2024-05-02T09:30:00Z"},
	{"instrument":"Y","price":50,"time":"2024-05-02T09:30:00Z"},
	{"instrument":"X","price":93,"time":"2024-05-02T09:31:00Z"}
]}`

// ratchetReplayData holds a low reversal for X confirmed at 09:30, a long entry above the
// signal high at 09:31, a red candle closing after the grace period at 10:15 and a price
// below its low at 10:20.
const ratchetReplayData = `{"ticks":[
	{"instrument":"X","price":100,"time":"2024-05-02T09:00:00Z"},
	{"instrument":"X","price":99,"time":"2024-05-02T09:05:00Z"},
	{"instrument":"X","price":97,"time":"2024-05-02T09:10:00Z"},
	{"instrument":"X","price":96,"time":"2024-05-02T09:15:00Z"},
	{"instrument":"X","price":95,"time":"2024-05-02T09:20:00Z"},
	{"instrument":"X","price":97,"time":"2024-05-02T09:25:00Z"},
	{"instrument":"X","price":98,"time":"2024-05-02T09:30:00Z"},
	{"instrument":"X","price":101,"time":"2024-05-02T09:31:00Z"},
	{"instrument":"X","price":100.5,"time":"2024-05-02T09:45:00Z"},
	{"instrument":"X","price":102,"time":"2024-05-02T10:00:00Z"},
	{"instrument":"X","price":103,"time":"2024-05-02T10:05:00Z"},
	{"instrument":"X","price":100,"time":"2024-05-02T10:10:00Z"},
	{"instrument":"X","price":101,"time":"2024-05-02T10:15:00Z"},
	{"instrument":"X","price":99,"time":"2024-05-02T10:20:00Z"}
]}`

func writeReplayFile(t *testing.T) string {
	t.Helper()
	return writeReplayData(t, replayData)
}

func writeReplayData(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.json")
	err := os.WriteFile(path, []byte(data), 0o600)
	assert.NoError(t, err)
	return path
}

func TestReversalConfigValidate(t *testing.T) {
	cancel := func() {}

	tests := []struct {
		name    string
		cfg     ReversalConfig
		wantErr []string
	}{
		{
			name: "valid replay config",
			cfg: ReversalConfig{
				Window:         time.Minute * 15,
				Location:       time.UTC,
				SessionReset:   "09:00",
				ReplayFilePath: "ticks.json",
				Cancel:         cancel,
				Logger:         &log.Logger,
			},
		},
		{
			name: "valid stream config",
			cfg: ReversalConfig{
				Window:    time.Minute * 15,
				Location:  time.UTC,
				StreamURL: "ws://localhost:9001/ws",
				Cancel:    cancel,
				Logger:    &log.Logger,
			},
		},
		{
			name: "no feed",
			cfg: ReversalConfig{
				Window:   time.Minute * 15,
				Location: time.UTC,
				Cancel:   cancel,
				Logger:   &log.Logger,
			},
			wantErr: []string{"either a replay file or a stream url must be provided"},
		},
		{
			name: "both feeds",
			cfg: ReversalConfig{
				Window:         time.Minute * 15,
				Location:       time.UTC,
				ReplayFilePath: "ticks.json",
				StreamURL:      "ws://localhost:9001/ws",
				Cancel:         cancel,
				Logger:         &log.Logger,
			},
			wantErr: []string{"only one of a replay file or a stream url can be provided"},
		},
		{
			name: "invalid window and session reset",
			cfg: ReversalConfig{
				Window:         time.Minute * 7,
				Location:       time.UTC,
				SessionReset:   "9am",
				ReplayFilePath: "ticks.json",
				Cancel:         cancel,
				Logger:         &log.Logger,
			},
			wantErr: []string{"window must evenly divide a day", "session reset must be formatted as HH:MM"},
		},
		{
			name: "missing location, cancel and logger",
			cfg: ReversalConfig{
				Window:         time.Minute * 15,
				ReplayFilePath: "ticks.json",
			},
			wantErr: []string{
				"location cannot be nil",
				"context cancellation function cannot be nil",
				"logger cannot be nil",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}

			if err == nil {
				t.Errorf("expected error(s) %v, got none", tt.wantErr)
				return
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("expected error to contain %q, got %v", want, err)
				}
			}
		})
	}
}

func TestNewReversal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure the service cannot be created with an invalid config.
	_, err := NewReversal(ctx, &ReversalConfig{})
	assert.Error(t, err)

	// Ensure the service cannot be created with a missing replay file.
	_, err = NewReversal(ctx, &ReversalConfig{
		Window:         time.Minute * 15,
		Location:       time.UTC,
		ReplayFilePath: filepath.Join(t.TempDir(), "missing.json"),
		Cancel:         cancel,
		Logger:         &log.Logger,
	})
	assert.Error(t, err)

	// Ensure the service cannot be created with an unreachable journal.
	_, err = NewReversal(ctx, &ReversalConfig{
		Window:          time.Minute * 15,
		Location:        time.UTC,
		ReplayFilePath:  writeReplayFile(t),
		JournalEndpoint: "http://127.0.0.1:1",
		Cancel:          cancel,
		Logger:          &log.Logger,
	})
	assert.Error(t, err)

	// Ensure the service can be created with a stream feed and a session reset.
	svc, err := NewReversal(ctx, &ReversalConfig{
		Window:       time.Minute * 15,
		Location:     time.UTC,
		SessionReset: "09:00",
		StreamURL:    "ws://localhost:9001/ws",
		Cancel:       cancel,
		Logger:       &log.Logger,
	})
	assert.NoError(t, err)
	assert.NotNil(t, svc.stream)
	assert.Equal(t, len(svc.jobScheduler.Jobs()), 1)
}

func TestReversalReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewReversal(ctx, &ReversalConfig{
		Instruments:    []string{"X"},
		Window:         time.Minute * 15,
		PollInterval:   time.Millisecond * 50,
		Location:       time.UTC,
		ReplayFilePath: writeReplayFile(t),
		Cancel:         cancel,
		Logger:         &log.Logger,
	})
	assert.NoError(t, err)

	// Ensure the service replays the recorded ticks and terminates once done.
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 10):
		t.Fatal("expected replay to terminate the service")
	}

	// Ensure the red to green reversal at the day low was identified.
	state, active, ok := svc.marketManager.FetchState("X")
	assert.True(t, ok)
	assert.True(t, state.DayLowReversal)
	assert.False(t, state.DayHighReversal)
	assert.Equal(t, state.SignalHigh, float64(101))
	assert.Equal(t, state.SignalLow, float64(94))
	assert.Equal(t, state.DayLow, float64(93))
	assert.Equal(t, active.Close, float64(93))

	assert.Equal(t, testutil.ToFloat64(svc.metrics.SignalsTotal.WithLabelValues("day low reversal")), float64(1))
	assert.Equal(t, testutil.ToFloat64(svc.metrics.CandlesTotal.WithLabelValues("red")), float64(1))
	assert.Equal(t, testutil.ToFloat64(svc.metrics.CandlesTotal.WithLabelValues("green")), float64(1))

	// Ensure the monitor entered a short below the signal low and closed it on shutdown.
	assert.Equal(t, svc.positionManager.State("X"), shared.Closed)
	assert.Equal(t, testutil.ToFloat64(svc.metrics.TransitionsTotal.WithLabelValues("short open")), float64(1))
	assert.Equal(t, testutil.ToFloat64(svc.metrics.ActiveMonitors), float64(0))

	// Ensure untracked instruments are not aggregated.
	_, _, ok = svc.marketManager.FetchState("Y")
	assert.False(t, ok)
}

func TestReversalReplayStopRatchet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewReversal(ctx, &ReversalConfig{
		Window:          time.Minute * 15,
		PollInterval:    time.Millisecond * 5,
		Location:        time.UTC,
		ReplayFilePath:  writeReplayData(t, ratchetReplayData),
		ReplayBatchSize: 1,
		ReplayInterval:  time.Millisecond * 40,
		Cancel:          cancel,
		Logger:          &log.Logger,
	})
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 10):
		t.Fatal("expected replay to terminate the service")
	}

	state, _, ok := svc.marketManager.FetchState("X")
	assert.True(t, ok)
	assert.True(t, state.DayLowReversal)
	assert.Equal(t, state.SignalHigh, float64(100))
	assert.Equal(t, state.SignalLow, float64(95))

	// Ensure the grace period runs on recorded tick times so the stop loss is ratcheted to the
	// low of the red candle closing at 10:15 and the position is stopped out at 10:20.
	position, ok := svc.positionManager.LastClosed("X")
	assert.True(t, ok)
	assert.Equal(t, position.Direction, shared.Long)
	assert.Equal(t, position.EntryPrice, float64(101))
	assert.Equal(t, position.StopLoss, float64(100))
	assert.Equal(t, position.ExitPrice, float64(99))
	assert.Equal(t, position.Status.String(), "stopped out")
	assert.Equal(t, position.CreatedOn, uint64(time.Date(2024, 5, 2, 9, 31, 0, 0, time.UTC).Unix()))
	assert.Equal(t, position.ClosedOn, uint64(time.Date(2024, 5, 2, 10, 20, 0, 0, time.UTC).Unix()))
}
