package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

func TestNewStream(t *testing.T) {
	c := &collector{}

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "ws url", url: "ws://localhost:9001/ws"},
		{name: "wss url", url: "wss://localhost:9001/ws"},
		{name: "http url", url: "http://localhost:9001/ws", wantErr: true},
		{name: "empty url", url: "", wantErr: true},
	}

	for _, test := range tests {
		stream, err := NewStream(&StreamConfig{
			URL:         test.url,
			Location:    time.UTC,
			SubmitTicks: c.Submit,
			Logger:      &log.Logger,
		})
		if test.wantErr {
			if err == nil {
				t.Errorf("%s: expected an error", test.name)
			}
			continue
		}

		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}

		assert.Equal(t, stream.cfg.ReconnectDelay, DefaultReconnectDelay)
	}
}

func TestStreamRun(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := []string{
		`{"instrument":"X","price":100,"time":"2024-05-02T09:15:03+05:30"}`,
		`not json`,
		`[{"instrument":"X","price":101},{"instrument":"Y","price":50}]`,
	}

	connections := make(chan struct{}, 5)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		connections <- struct{}{}
		for idx := range frames {
			err := conn.WriteMessage(websocket.TextMessage, []byte(frames[idx]))
			if err != nil {
				return
			}
		}

		// Hold the connection open until the client goes away.
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := &collector{}
	stream, err := NewStream(&StreamConfig{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay: time.Millisecond * 10,
		Location:       time.UTC,
		SubmitTicks:    c.Submit,
		Logger:         &log.Logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	// Ensure streamed ticks are submitted, skipping malformed frames.
	<-connections
	deadline := time.Now().Add(time.Second * 5)
	for len(c.Batches()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for streamed ticks")
		}
		time.Sleep(time.Millisecond * 5)
	}

	batches := c.Batches()
	assert.Equal(t, len(batches[0]), 1)
	assert.Equal(t, len(batches[1]), 2)
	assert.Equal(t, batches[1][1], shared.Tick{Instrument: "Y", Price: 50})

	// Ensure the stream terminates on cancellation.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("expected stream to terminate")
	}
}
