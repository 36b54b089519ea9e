package probes

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// WS opens a WebSocket connection, sends a ping control frame and requires
// a pong echoing the same payload within the timeout.
func WS(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	w := m.WS
	if w == nil {
		return nil, fmt.Errorf("monitor does not contain WS configuration")
	}

	to := time.Duration(timeout(w.Timeout, config.DefaultTimeout)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: to}
	conn, _, err := dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("WS connect: %w", err)
	}
	defer conn.Close()

	payload := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))

	pong := make(chan []byte, 1)
	conn.SetPongHandler(func(data string) error {
		select {
		case pong <- []byte(data):
		default:
		}
		return nil
	})

	deadline := time.Now().Add(to)
	conn.SetReadDeadline(deadline)
	if err := conn.WriteControl(websocket.PingMessage, payload, deadline); err != nil {
		return nil, fmt.Errorf("WS ping: %w", err)
	}

	// Control frames are only processed while a read is in flight.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case data := <-pong:
		if !bytes.Equal(data, payload) {
			return nil, fmt.Errorf("pong payload mismatch")
		}
		return result.New(), nil
	case err := <-readErr:
		select {
		case data := <-pong:
			if bytes.Equal(data, payload) {
				return result.New(), nil
			}
		default:
		}
		return nil, fmt.Errorf("reading pong: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out waiting for pong")
	}
}
