// Package wsclient maintains the persistent duplex control channel to the
// server: it subscribes with the agent token, receives monitor
// configuration pushes, and streams pulses out of the retry queue until the
// server acknowledges them.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/pulse"
	"github.com/sureshkrishnan-v/pulsemon/internal/telemetry"
)

const (
	reconnectDelay   = time.Second
	outboundCapacity = 4096
	sendBatchMax     = 2000
	writeTimeout     = 10 * time.Second
)

// ErrAuthenticationFailed marks a server error frame rejecting the agent
// token. The reconnect loop logs it and keeps retrying.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ToWSScheme maps an HTTP(S) URL onto its WebSocket scheme. Already-mapped
// URLs pass through unchanged.
func ToWSScheme(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}

// DeriveChannelURL builds the control channel endpoint from the server base
// URL.
func DeriveChannelURL(serverURL string) string {
	return ToWSScheme(strings.TrimRight(serverURL, "/")) + "/ws"
}

// frame is the JSON envelope of every channel message, discriminated by
// Action. Unused fields stay zero for any given action.
type frame struct {
	Action           string `json:"action"`
	Token            string `json:"token,omitempty"`
	Message          string `json:"message,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	PulseMonitorID   string `json:"pulseMonitorId,omitempty"`
	PulseMonitorName string `json:"pulseMonitorName,omitempty"`
	PulseID          string `json:"pulseId,omitempty"`
	MonitorID        string `json:"monitorId,omitempty"`
	Data             *struct {
		Monitors []config.Monitor `json:"monitors"`
	} `json:"data,omitempty"`
}

// Client is the control channel state machine. Create it once; the
// underlying connection is reborn across reconnects.
type Client struct {
	channelURL string
	token      string
	logger     *zap.Logger
	queue      *pulse.Queue
	slot       *pulse.Slot
	configCh   chan *config.Config
	dialer     *websocket.Dialer
}

// New creates a client for the given server base URL and agent token. The
// slot is shared with the heartbeat dispatcher; the queue provides
// at-least-once delivery across reconnects.
func New(serverURL, token string, queue *pulse.Queue, slot *pulse.Slot, logger *zap.Logger) *Client {
	channelURL := DeriveChannelURL(serverURL)
	logger.Info("Control channel URL derived", zap.String("url", channelURL))

	return &Client{
		channelURL: channelURL,
		token:      token,
		logger:     logger,
		queue:      queue,
		slot:       slot,
		configCh:   make(chan *config.Config, 32),
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// ConfigUpdates returns the stream of monitor sets pushed by the server.
func (c *Client) ConfigUpdates() <-chan *config.Config {
	return c.configCh
}

// Run connects, subscribes and serves the session, reconnecting after a
// fixed delay on any failure. Blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			c.logger.Error("Control channel session ended",
				zap.Error(err),
				zap.Duration("reconnect_delay", reconnectDelay))
		} else {
			c.logger.Warn("Control channel closed, reconnecting",
				zap.Duration("reconnect_delay", reconnectDelay))
		}
		telemetry.Reconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// session runs one CONNECTING → SUBSCRIBING → ACTIVE pass. It returns when
// the transport fails, the peer closes, or the server rejects the token.
func (c *Client) session(ctx context.Context) error {
	c.logger.Info("Connecting to control channel", zap.String("url", c.channelURL))

	conn, _, err := c.dialer.DialContext(ctx, c.channelURL, nil)
	if err != nil {
		return fmt.Errorf("dialing control channel: %w", err)
	}
	defer conn.Close()

	c.logger.Info("Connected, subscribing", zap.String("url", c.channelURL))
	if err := writeJSON(conn, frame{Action: "subscribe", Token: c.token}); err != nil {
		return fmt.Errorf("sending subscribe: %w", err)
	}

	outbound := make(chan pulse.PushMessage, outboundCapacity)
	c.slot.Publish(outbound)
	defer c.slot.Clear()

	// The reader goroutine owns all reads; writes happen only below so the
	// connection never sees concurrent writers. Ping frames are forwarded
	// to the write side for the same reason.
	pings := make(chan string, 4)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- data:
		default:
		}
		return nil
	})

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	ticker := time.NewTicker(c.queue.Config().RetryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case err := <-readErr:
			return err

		case data := <-pings:
			if err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout)); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}

		case msg := <-outbound:
			// Every pulse passes through the queue so it survives until
			// the server acks it.
			c.queue.Enqueue(msg)
			if out, ok := c.queue.NextToSend(); ok {
				if err := writeJSON(conn, out); err != nil {
					return fmt.Errorf("sending pulse: %w", err)
				}
				telemetry.PulsesSent.WithLabelValues("channel").Inc()
			}
			telemetry.QueueDepth.Set(float64(c.queue.Pending()))

		case <-ticker.C:
			c.queue.PruneExpired()
			for _, out := range c.queue.NextBatchToSend(sendBatchMax) {
				if err := writeJSON(conn, out); err != nil {
					return fmt.Errorf("retransmitting pulse: %w", err)
				}
				telemetry.PulsesSent.WithLabelValues("channel").Inc()
			}
			telemetry.QueueDepth.Set(float64(c.queue.Pending()))
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("Server closed the connection")
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := c.handleFrame(data); err != nil {
			return err
		}
	}
}

// handleFrame demuxes one inbound message by action. Only authentication
// failures abort the session; malformed frames are logged and skipped.
func (c *Client) handleFrame(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Error("Failed to parse frame", zap.Error(err))
		return nil
	}

	switch f.Action {
	case "connected":
		// informational

	case "subscribed":
		c.logger.Info("Subscription successful",
			zap.String("monitor_name", f.PulseMonitorName),
			zap.String("monitor_id", f.PulseMonitorID))
		c.publishConfig(f)

	case "config-update":
		c.publishConfig(f)

	case "pushed":
		if f.PulseID != "" {
			c.queue.Acknowledge(f.PulseID)
		}

	case "error":
		c.logger.Error("Server error", zap.String("message", f.Message))
		if strings.Contains(f.Message, "Invalid") {
			return fmt.Errorf("%w: %s", ErrAuthenticationFailed, f.Message)
		}

	case "subscribe":
		c.logger.Warn("Received unexpected subscribe message from server")

	default:
		c.logger.Warn("Unknown frame action", zap.String("action", f.Action))
	}

	return nil
}

func (c *Client) publishConfig(f frame) {
	if f.Data == nil {
		c.logger.Warn("Configuration frame without data", zap.String("action", f.Action))
		return
	}
	c.logger.Info("Received monitor configuration",
		zap.String("action", f.Action),
		zap.Int("monitors", len(f.Data.Monitors)))

	c.configCh <- &config.Config{Monitors: f.Data.Monitors}
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
