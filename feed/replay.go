package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// DefaultReplayBatchSize is the default number of ticks submitted per replay batch.
	DefaultReplayBatchSize = 64
	// resubmitDelay is the wait before resubmitting a batch dropped at capacity.
	resubmitDelay = time.Millisecond * 10
)

// ReplayConfig represents the tick replay configuration.
type ReplayConfig struct {
	// FilePath is the filepath to the recorded ticks.
	FilePath string
	// BatchSize is the number of ticks submitted per batch.
	BatchSize int
	// Interval is the wait between batch submissions.
	Interval time.Duration
	// Location is the locality of recorded timestamps without an offset.
	Location *time.Location
	// SubmitTicks queues the provided tick batch for aggregation.
	SubmitTicks func(batch []shared.Tick) bool
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ReplayConfig) Validate() error {
	var errs error

	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("replay file path cannot be empty"))
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}
	if cfg.SubmitTicks == nil {
		errs = errors.Join(errs, fmt.Errorf("submit ticks function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Replay feeds recorded ticks through the live pipeline.
type Replay struct {
	cfg   *ReplayConfig
	ticks []shared.Tick
}

// loadReplayData loads the recorded tick bytes from the provided file path.
func loadReplayData(filepath string) (*gjson.Result, error) {
	readb, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading ticks from file with path '%s': %w", filepath, err)
	}
	if !gjson.ValidBytes(readb) {
		return nil, fmt.Errorf("invalid json in file with path '%s'", filepath)
	}

	b := gjson.ParseBytes(readb)

	return &b, nil
}

// NewReplay initializes a new tick replay, loading the configured recorded ticks.
func NewReplay(cfg *ReplayConfig) (*Replay, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating replay config: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReplayBatchSize
	}

	b, err := loadReplayData(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("loading replay data: %w", err)
	}

	data := b.Get("ticks")
	if !data.IsArray() {
		return nil, fmt.Errorf("no ticks array found in '%s'", cfg.FilePath)
	}

	ticks, errs := ParseTicks([]byte(data.Raw), cfg.Location)
	for idx := range errs {
		cfg.Logger.Error().Err(errs[idx]).Msg("skipping malformed recorded tick")
	}

	return &Replay{
		cfg:   cfg,
		ticks: ticks,
	}, nil
}

// Len returns the number of recorded ticks.
func (r *Replay) Len() int {
	return len(r.ticks)
}

// submit queues the provided batch, resubmitting it while the intake is at capacity.
func (r *Replay) submit(ctx context.Context, batch []shared.Tick) error {
	for !r.cfg.SubmitTicks(batch) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubmitDelay):
		}
	}

	return nil
}

// Run submits the recorded ticks in batches until exhausted or the provided context is
// cancelled.
func (r *Replay) Run(ctx context.Context) error {
	for start := 0; start < len(r.ticks); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(r.ticks))

		batch := make([]shared.Tick, end-start)
		copy(batch, r.ticks[start:end])

		err := r.submit(ctx, batch)
		if err != nil {
			return err
		}

		if r.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Interval):
			}
		}
	}

	r.cfg.Logger.Info().Msgf("replayed %d ticks from %s", len(r.ticks), r.cfg.FilePath)

	return nil
}
