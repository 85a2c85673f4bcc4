package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultReconnectDelay is the default wait before reconnecting a dropped stream.
	DefaultReconnectDelay = time.Second * 3
)

// StreamConfig represents the websocket tick stream configuration.
type StreamConfig struct {
	// URL is the websocket endpoint streaming ticks.
	URL string
	// ReconnectDelay is the wait before reconnecting a dropped stream.
	ReconnectDelay time.Duration
	// Location is the locality of streamed timestamps without an offset.
	Location *time.Location
	// SubmitTicks queues the provided tick batch for aggregation.
	SubmitTicks func(batch []shared.Tick) bool
	// OnReconnect is called before every reconnection attempt. Optional.
	OnReconnect func()
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *StreamConfig) Validate() error {
	var errs error

	u, err := url.Parse(cfg.URL)
	switch {
	case err != nil:
		errs = errors.Join(errs, fmt.Errorf("parsing stream url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = errors.Join(errs, fmt.Errorf("stream url must be a ws or wss url, got '%s'", cfg.URL))
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

// Stream feeds ticks streamed over a websocket connection into the live pipeline.
type Stream struct {
	cfg    *StreamConfig
	dialer *websocket.Dialer
}

// NewStream initializes a new websocket tick stream.
func NewStream(cfg *StreamConfig) (*Stream, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating stream config: %w", err)
	}

	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	return &Stream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
	}, nil
}

// handleMessage parses and submits the ticks of the provided message.
func (s *Stream) handleMessage(msg []byte) {
	ticks, errs := ParseTicks(msg, s.cfg.Location)
	for idx := range errs {
		s.cfg.Logger.Error().Err(errs[idx]).Msg("skipping malformed streamed tick")
	}

	if len(ticks) == 0 {
		return
	}

	if !s.cfg.SubmitTicks(ticks) {
		s.cfg.Logger.Warn().Msgf("dropped %d streamed ticks", len(ticks))
	}
}

// runOnce connects to the stream and reads ticks until disconnected or the provided context
// is cancelled.
func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	s.cfg.Logger.Info().Msgf("connected to tick stream %s", s.cfg.URL)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("reading tick stream: %w", err)
		}

		s.handleMessage(msg)
	}
}

// Run streams ticks until the provided context is cancelled, reconnecting after the configured
// delay whenever the stream drops.
func (s *Stream) Run(ctx context.Context) {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		s.cfg.Logger.Error().Err(err).Msgf("tick stream disconnected, reconnecting in %s",
			s.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}

		if s.cfg.OnReconnect != nil {
			s.cfg.OnReconnect()
		}
	}
}
