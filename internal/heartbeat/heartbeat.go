// Package heartbeat converts completed checks into delivered pulses.
//
// Three delivery paths exist, tried in a fixed order: the monitor's own
// heartbeat URL (custom HTTP), the server control channel, and the server
// HTTP push endpoint as fallback. "Channel full" drops the pulse to protect
// the schedule; "channel unavailable" is a persistent outage and falls back
// to bounded HTTP retries.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/pulse"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
	"github.com/sureshkrishnan-v/pulsemon/internal/telemetry"
)

// ErrNoDeliveryPath means the monitor has neither a heartbeat block nor a
// token+server pair; the pulse cannot be delivered anywhere.
var ErrNoDeliveryPath = errors.New("no heartbeat configuration: need either heartbeat config or token + server URL")

// ErrChannelUnavailable means the control channel has no live session and no
// HTTP fallback is configured.
var ErrChannelUnavailable = errors.New("pulse channel not available")

const requestTimeout = 10 * time.Second

// Dispatcher delivers pulses. One instance is shared by all probe tasks; the
// underlying HTTP client pools and reuses idle connections.
type Dispatcher struct {
	logger    *zap.Logger
	client    *http.Client
	serverURL string      // empty in file mode
	slot      *pulse.Slot // nil in file mode
	queueCfg  pulse.QueueConfig
}

// NewDispatcher creates a dispatcher. serverURL and slot may be empty/nil in
// file mode; queueCfg supplies the HTTP-fallback retry bounds.
func NewDispatcher(logger *zap.Logger, serverURL string, slot *pulse.Slot, queueCfg pulse.QueueConfig) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 256,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		serverURL: serverURL,
		slot:      slot,
		queueCfg:  queueCfg,
	}
}

// Send delivers one pulse for a completed check.
func (d *Dispatcher) Send(ctx context.Context, m *config.Monitor, start, end time.Time, latencyMs float64, r result.CheckResult) error {
	customs := ResolveCustomPlaceholders(m, r)
	tv := newTimeValues(start, end, latencyMs)

	// Custom heartbeat wins regardless of mode.
	if m.Heartbeat != nil {
		return d.sendCustom(ctx, m.Heartbeat, tv, customs)
	}

	token := ""
	if m.Token != nil {
		token = *m.Token
	}

	// Control channel path.
	if token != "" && d.slot != nil && d.slot.Live() {
		msg := pulse.NewPush(token, latencyMs, start, end).WithCustomMetrics(r)
		ok, full := d.slot.TrySend(msg)
		if ok && !full {
			return nil
		}
		if full {
			// At scale, prefer dropping over blocking checks.
			d.logger.Warn("Pulse channel full, dropping pulse", zap.String("token", token))
			telemetry.PulsesDropped.Inc()
			return nil
		}
		d.logger.Warn("Pulse channel lost mid-send, falling back to HTTP", zap.String("token", token))
		if d.serverURL != "" {
			return d.sendTokenHTTP(ctx, token, tv, customs)
		}
		return ErrChannelUnavailable
	}

	// Server HTTP fallback.
	if token != "" && d.serverURL != "" {
		return d.sendTokenHTTP(ctx, token, tv, customs)
	}

	return ErrNoDeliveryPath
}

// sendCustom performs the monitor's own heartbeat request. No retries at
// this layer; the next interval tick is the next attempt.
func (d *Dispatcher) sendCustom(ctx context.Context, hb *config.Heartbeat, tv timeValues, customs []Placeholder) error {
	url := applyTemplates(hb.URL, tv, customs)

	method := strings.ToUpper(hb.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
	default:
		return fmt.Errorf("unsupported HTTP method: %s", hb.Method)
	}

	if hb.Timeout != nil && *hb.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*hb.Timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("building heartbeat request: %w", err)
	}
	for _, header := range hb.Headers {
		for name, value := range header {
			req.Header.Set(name, applyTemplates(value, tv, customs))
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}
	telemetry.PulsesSent.WithLabelValues("custom-http").Inc()
	return nil
}

// pushURLTemplate builds the server push URL as a template so it runs
// through the same placeholder engine as custom heartbeats.
func pushURLTemplate(serverURL, token string) string {
	base := strings.TrimRight(serverURL, "/")
	return base + "/v1/push/" + token +
		"?latency={latency}&startTime={startTimeISO}&endTime={endTimeISO}" +
		"&custom1={custom1}&custom2={custom2}&custom3={custom3}"
}

// sendTokenHTTP issues the fallback GET, retrying up to MaxRetries extra
// attempts with RetryDelay pauses.
func (d *Dispatcher) sendTokenHTTP(ctx context.Context, token string, tv timeValues, customs []Placeholder) error {
	url := applyTemplates(pushURLTemplate(d.serverURL, token), tv, customs)

	var lastErr error
	attempts := d.queueCfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := d.getOnce(ctx, url)
		if err == nil {
			if attempt > 1 {
				d.logger.Info("HTTP pulse succeeded after retry", zap.Int("attempt", attempt))
			}
			telemetry.PulsesSent.WithLabelValues("server-http").Inc()
			return nil
		}
		lastErr = err
		d.logger.Warn("HTTP pulse attempt failed",
			zap.Int("attempt", attempt),
			zap.String("token", token),
			zap.Error(err))

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.queueCfg.RetryDelay):
			}
		}
	}

	return fmt.Errorf("pushing pulse over HTTP: %w", lastErr)
}

func (d *Dispatcher) getOnce(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
