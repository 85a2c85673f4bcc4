package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dnldd/reversal/service"
	"github.com/dnldd/reversal/shared"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

const (
	// logBufferSize is the number of log messages buffered before the oldest are dropped.
	logBufferSize = 1000
	// logPollInterval is the interval the buffered log messages are flushed at.
	logPollInterval = time.Millisecond * 10
)

// newLogWriter fans log messages out to the provided writers through a single non-blocking
// diode writer. Messages are dropped and reported once the buffer is full.
func newLogWriter(writers ...io.Writer) diode.Writer {
	return diode.NewWriter(zerolog.MultiLevelWriter(writers...), logBufferSize, logPollInterval,
		func(missed int) {
			fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
		})
}

// newLogger creates the application logger. Console output is mirrored to a rotated log file
// when a log filepath is provided, and every sink is written to off the calling goroutine.
func newLogger(cfg *Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("parsing log level: %w", err)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if cfg.LogFile != "" {
		err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("creating log directory: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		})
	}

	// Closing the buffered writer flushes pending messages and closes the log file.
	buffered := newLogWriter(writers...)
	logger := zerolog.New(buffered).Level(level).With().Timestamp().Logger()

	return logger, buffered, nil
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	logger, closer, err := newLogger(&cfg)
	if err != nil {
		log.Printf("creating logger: %v", err)
		return
	}
	defer closer.Close()

	loc, err := shared.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error().Err(err).Msg("loading timezone")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reversalCfg := service.ReversalConfig{
		Instruments:      cfg.Instruments,
		Window:           cfg.Window,
		Grace:            cfg.Grace,
		PollInterval:     cfg.PollInterval,
		TolerancePercent: cfg.Tolerance,
		Location:         loc,
		SessionReset:     cfg.SessionReset,
		ReplayFilePath:   cfg.ReplayFile,
		ReplayBatchSize:  cfg.ReplayBatchSize,
		ReplayInterval:   cfg.ReplayInterval,
		StreamURL:        cfg.StreamURL,
		JournalEndpoint:  cfg.JournalEndpoint,
		JournalUser:      cfg.JournalUser,
		JournalPass:      cfg.JournalPass,
		MetricsAddr:      cfg.MetricsAddr,
		Cancel:           cancel,
		Logger:           &logger,
	}
	reversal, err := service.NewReversal(ctx, &reversalCfg)
	if err != nil {
		logger.Error().Err(err).Msg("creating reversal service")
		return
	}

	go handleTermination(ctx, cancel)
	reversal.Run(ctx)
}
