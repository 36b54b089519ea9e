package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/pulsemon/internal/pulse"
)

func TestToWSScheme(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://localhost:3000", "ws://localhost:3000"},
		{"https://pulse.example.com", "wss://pulse.example.com"},
		{"ws://localhost:3000", "ws://localhost:3000"},
		{"wss://pulse.example.com", "wss://pulse.example.com"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ToWSScheme(tc.in))
	}
}

func TestDeriveChannelURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:3000/ws", DeriveChannelURL("http://localhost:3000"))
	assert.Equal(t, "wss://pulse.example.com/ws", DeriveChannelURL("https://pulse.example.com/"))
}

func newTestClient(t *testing.T, serverURL string, cfg pulse.QueueConfig) (*Client, *pulse.Queue, *pulse.Slot) {
	t.Helper()
	queue := pulse.NewQueue(cfg, zap.NewNop())
	slot := pulse.NewSlot()
	return New(serverURL, "tok-1", queue, slot, zap.NewNop()), queue, slot
}

func TestHandleFrameAuthFailure(t *testing.T) {
	c, _, _ := newTestClient(t, "http://localhost:3000", pulse.DefaultQueueConfig())

	err := c.handleFrame([]byte(`{"action":"error","message":"Invalid token"}`))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	// other server errors do not abort the session
	err = c.handleFrame([]byte(`{"action":"error","message":"temporarily overloaded"}`))
	assert.NoError(t, err)
}

func TestHandleFramePushedAcknowledges(t *testing.T) {
	c, queue, _ := newTestClient(t, "http://localhost:3000", pulse.DefaultQueueConfig())
	id := queue.Enqueue(pulse.PushMessage{Action: "push", Token: "tok-1"})
	require.Equal(t, 1, queue.Pending())

	err := c.handleFrame(fmt.Appendf(nil, `{"action":"pushed","pulseId":%q}`, id))
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Pending())

	// unknown pulse ids are harmless
	err = c.handleFrame([]byte(`{"action":"pushed","pulseId":"never-issued"}`))
	assert.NoError(t, err)
}

func TestHandleFrameConfigUpdate(t *testing.T) {
	c, _, _ := newTestClient(t, "http://localhost:3000", pulse.DefaultQueueConfig())

	err := c.handleFrame([]byte(`{
		"action": "config-update",
		"data": {"monitors": [
			{"enabled": true, "name": "web", "interval": 60, "token": "tok-1"},
			{"enabled": false, "name": "db", "interval": 30}
		]}
	}`))
	require.NoError(t, err)

	select {
	case cfg := <-c.ConfigUpdates():
		require.Len(t, cfg.Monitors, 2)
		assert.Equal(t, "web", cfg.Monitors[0].Name)
		assert.Equal(t, int64(60), cfg.Monitors[0].Interval)
	default:
		t.Fatal("expected a config update to be published")
	}

	// a configuration frame without data publishes nothing
	err = c.handleFrame([]byte(`{"action":"config-update"}`))
	require.NoError(t, err)
	select {
	case <-c.ConfigUpdates():
		t.Fatal("unexpected config update")
	default:
	}
}

func TestHandleFrameMalformedAndUnknown(t *testing.T) {
	c, _, _ := newTestClient(t, "http://localhost:3000", pulse.DefaultQueueConfig())

	assert.NoError(t, c.handleFrame([]byte(`{not json`)))
	assert.NoError(t, c.handleFrame([]byte(`{"action":"mystery"}`)))
	assert.NoError(t, c.handleFrame([]byte(`{"action":"connected"}`)))
}

func TestSessionRoundTrip(t *testing.T) {
	var acks atomic.Int32
	subscribed := make(chan frame, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub frame
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		conn.WriteJSON(map[string]any{
			"action":           "subscribed",
			"pulseMonitorName": "web",
			"data": map[string]any{
				"monitors": []map[string]any{
					{"enabled": true, "name": "web", "interval": 60, "token": "tok-1"},
				},
			},
		})

		for {
			var p pulse.PushMessage
			if err := conn.ReadJSON(&p); err != nil {
				return
			}
			if p.Action == "push" && p.PulseID != "" {
				acks.Add(1)
				conn.WriteJSON(map[string]any{"action": "pushed", "pulseId": p.PulseID})
			}
		}
	}))
	defer srv.Close()

	cfg := pulse.QueueConfig{MaxQueueSize: 100, MaxRetries: 50, RetryDelay: 20 * time.Millisecond}
	client, queue, slot := newTestClient(t, srv.URL, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	// subscription carries the agent token
	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Action)
		assert.Equal(t, "tok-1", sub.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a subscribe frame")
	}

	// the pushed monitor set surfaces on ConfigUpdates
	select {
	case cfgUpdate := <-client.ConfigUpdates():
		require.Len(t, cfgUpdate.Monitors, 1)
		assert.Equal(t, "web", cfgUpdate.Monitors[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no config update received")
	}

	// a pulse sent through the slot is queued, transmitted and acknowledged
	require.Eventually(t, slot.Live, 2*time.Second, 10*time.Millisecond)
	ok, full := slot.TrySend(pulse.NewPush("tok-1", 5, time.Now(), time.Now()))
	require.True(t, ok)
	require.False(t, full)

	require.Eventually(t, func() bool { return acks.Load() >= 1 }, 3*time.Second, 20*time.Millisecond,
		"server should have acked the pulse")
	require.Eventually(t, func() bool { return queue.Pending() == 0 }, 3*time.Second, 20*time.Millisecond,
		"ack should empty the retry queue")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop on context cancellation")
	}
}

func TestRunReconnectsAfterServerClose(t *testing.T) {
	var sessions atomic.Int32

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sessions.Add(1)
		// drop the session immediately; the client should come back
		conn.Close()
	}))
	defer srv.Close()

	client, _, _ := newTestClient(t, srv.URL, pulse.DefaultQueueConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sessions.Load() >= 2 }, 5*time.Second, 50*time.Millisecond,
		"client should reconnect after the server drops the connection")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop on context cancellation")
	}
}
