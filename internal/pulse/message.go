// Package pulse holds the outbound pulse wire form, the bounded retry queue
// behind the control channel, and the shared sender slot probe tasks use to
// reach the channel.
package pulse

import (
	"time"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// TimeLayout is the wire timestamp format: RFC-3339 UTC with millisecond
// precision and a Z suffix.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the wire timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// PushMessage is the wire form of a delivered pulse.
type PushMessage struct {
	Action    string   `json:"action"`
	Token     string   `json:"token"`
	PulseID   string   `json:"pulseId,omitempty"`
	Latency   *float64 `json:"latency,omitempty"`
	StartTime string   `json:"startTime,omitempty"`
	EndTime   string   `json:"endTime,omitempty"`
	Custom1   *float64 `json:"custom1,omitempty"`
	Custom2   *float64 `json:"custom2,omitempty"`
	Custom3   *float64 `json:"custom3,omitempty"`
}

// NewPush builds a push message for one completed check.
func NewPush(token string, latencyMs float64, start, end time.Time) PushMessage {
	return PushMessage{
		Action:    "push",
		Token:     token,
		Latency:   &latencyMs,
		StartTime: FormatTime(start),
		EndTime:   FormatTime(end),
	}
}

// WithCustomMetrics copies the well-known custom slots out of a check result.
func (p PushMessage) WithCustomMetrics(r result.CheckResult) PushMessage {
	if v, ok := r.Custom(1); ok {
		p.Custom1 = &v
	}
	if v, ok := r.Custom(2); ok {
		p.Custom2 = &v
	}
	if v, ok := r.Custom(3); ok {
		p.Custom3 = &v
	}
	return p
}

// QueueConfig bounds the retry queue.
type QueueConfig struct {
	MaxQueueSize int
	MaxRetries   int
	RetryDelay   time.Duration
}

// DefaultQueueConfig returns the queue defaults: 10 000 pulses, 300 retries,
// 1 s retry cadence.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueSize: 10_000,
		MaxRetries:   300,
		RetryDelay:   time.Second,
	}
}

// QueueConfigFromEnv reads PULSE_MAX_QUEUE_SIZE, PULSE_MAX_RETRIES and
// PULSE_RETRY_DELAY_MS on top of the defaults.
func QueueConfigFromEnv() QueueConfig {
	def := DefaultQueueConfig()
	return QueueConfig{
		MaxQueueSize: config.EnvInt("PULSE_MAX_QUEUE_SIZE", def.MaxQueueSize),
		MaxRetries:   config.EnvInt("PULSE_MAX_RETRIES", def.MaxRetries),
		RetryDelay:   time.Duration(config.EnvInt("PULSE_RETRY_DELAY_MS", int(def.RetryDelay.Milliseconds()))) * time.Millisecond,
	}
}
