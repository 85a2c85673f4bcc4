package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// gatedWriter blocks writes until released.
type gatedWriter struct {
	release chan struct{}
	mtx     sync.Mutex
	buf     bytes.Buffer
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	<-w.release

	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.buf.Write(p)
}

func (w *gatedWriter) String() string {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.buf.String()
}

func TestNewLogWriter(t *testing.T) {
	console := &gatedWriter{release: make(chan struct{})}
	file := &gatedWriter{release: make(chan struct{})}
	writer := newLogWriter(console, file)
	logger := zerolog.New(writer)

	// Ensure logging does not block while every sink is stalled.
	done := make(chan struct{})
	go func() {
		for idx := range 10 {
			logger.Info().Msgf("candle %d finalized", idx)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("expected logging to not block on stalled sinks")
	}

	// Ensure buffered messages reach every sink once they recover.
	close(console.release)
	close(file.release)
	assert.NoError(t, writer.Close())
	assert.True(t, strings.Contains(console.String(), "candle 9 finalized"))
	assert.True(t, strings.Contains(file.String(), "candle 9 finalized"))
}

func TestNewLogger(t *testing.T) {
	// Ensure an unknown log level is rejected.
	_, _, err := newLogger(&Config{LogLevel: "loud"})
	assert.Error(t, err)
}
