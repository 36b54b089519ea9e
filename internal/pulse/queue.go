package pulse

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type queuedPulse struct {
	message  PushMessage
	attempts int
	lastSent time.Time // zero until first transmission
}

// Queue is the bounded at-least-once retry buffer behind the channel
// transport. Pulses are kept in an insertion-ordered id list plus an
// id-keyed map so acknowledgment is O(1); ids already acknowledged may
// linger in the order list and are skipped as stale on later pops.
//
// All operations hold a single mutex and do no I/O inside it.
type Queue struct {
	mu     sync.Mutex
	order  []string
	pulses map[string]*queuedPulse

	cfg    QueueConfig
	logger *zap.Logger
}

// NewQueue creates an empty queue with the given bounds.
func NewQueue(cfg QueueConfig, logger *zap.Logger) *Queue {
	return &Queue{
		order:  make([]string, 0, cfg.MaxQueueSize),
		pulses: make(map[string]*queuedPulse, cfg.MaxQueueSize),
		cfg:    cfg,
		logger: logger,
	}
}

// Config returns the queue bounds, shared with the HTTP fallback path.
func (q *Queue) Config() QueueConfig { return q.cfg }

// Enqueue assigns a fresh pulseId to the message and appends it. When the
// queue is at capacity the oldest live pulse is dropped first. Never blocks.
func (q *Queue) Enqueue(msg PushMessage) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pulses) >= q.cfg.MaxQueueSize {
		for len(q.order) > 0 {
			oldID := q.order[0]
			q.order = q.order[1:]
			if dropped, ok := q.pulses[oldID]; ok {
				delete(q.pulses, oldID)
				q.logger.Warn("Pulse queue full, dropping oldest pulse",
					zap.Int("max_queue_size", q.cfg.MaxQueueSize),
					zap.String("pulse_id", oldID),
					zap.String("token", dropped.message.Token))
				break
			}
		}
	}

	id := uuid.NewString()
	msg.PulseID = id

	q.order = append(q.order, id)
	q.pulses[id] = &queuedPulse{message: msg}

	return id
}

// Acknowledge removes a delivered pulse by id. Returns whether it was found.
// Unknown ids (including ids the agent never issued) are a no-op.
func (q *Queue) Acknowledge(pulseID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pulses[pulseID]; !ok {
		return false
	}
	delete(q.pulses, pulseID)
	q.logger.Debug("Pulse acknowledged", zap.String("pulse_id", pulseID))
	return true
}

// NextToSend pops the next live pulse, increments its attempt counter and
// rotates it to the back of the order for fairness. Pulses that exceeded
// MaxRetries are dropped. Returns false when the queue is empty.
func (q *Queue) NextToSend() (PushMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]

		p, ok := q.pulses[id]
		if !ok {
			// stale id
			continue
		}

		if p.attempts >= q.cfg.MaxRetries {
			delete(q.pulses, id)
			q.logger.Warn("Pulse exceeded max retries, dropping",
				zap.String("pulse_id", id),
				zap.Int("max_retries", q.cfg.MaxRetries),
				zap.String("token", p.message.Token))
			continue
		}

		p.attempts++
		if p.attempts > 1 {
			q.logger.Debug("Retrying pulse",
				zap.String("pulse_id", id),
				zap.Int("attempt", p.attempts),
				zap.Int("max_retries", q.cfg.MaxRetries))
		}

		q.order = append(q.order, id)
		return p.message, true
	}

	return PushMessage{}, false
}

// NextBatchToSend walks the current order once and returns up to max pulses
// that are due for (re)transmission: never sent, or last sent at least
// RetryDelay ago. Entries not yet due stay queued but still rotate to the
// back so no id can starve the rest.
func (q *Queue) NextBatchToSend(max int) []PushMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	out := make([]PushMessage, 0, min(max, len(q.order)))

	for scanned, n := 0, len(q.order); scanned < n && len(out) < max; scanned++ {
		id := q.order[0]
		q.order = q.order[1:]

		p, ok := q.pulses[id]
		if !ok {
			// stale (already acknowledged), do not push back
			continue
		}

		if p.attempts >= q.cfg.MaxRetries {
			delete(q.pulses, id)
			q.logger.Warn("Pulse exceeded max retries, dropping",
				zap.String("pulse_id", id),
				zap.Int("max_retries", q.cfg.MaxRetries),
				zap.String("token", p.message.Token))
			continue
		}

		if p.lastSent.IsZero() || now.Sub(p.lastSent) >= q.cfg.RetryDelay {
			p.attempts++
			p.lastSent = now
			if p.attempts > 1 {
				q.logger.Debug("Retrying pulse",
					zap.String("pulse_id", id),
					zap.Int("attempt", p.attempts),
					zap.Int("max_retries", q.cfg.MaxRetries))
			}
			out = append(out, p.message)
		}

		// still pending until acked
		q.order = append(q.order, id)
	}

	return out
}

// PruneExpired drops every pulse at or past MaxRetries and compacts the
// order list down to ids still present.
func (q *Queue) PruneExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.pulses)
	for id, p := range q.pulses {
		if p.attempts >= q.cfg.MaxRetries {
			delete(q.pulses, id)
		}
	}

	if pruned := before - len(q.pulses); pruned > 0 {
		q.logger.Warn("Pruned pulses that exceeded max retries", zap.Int("pruned", pruned))
	}

	live := q.order[:0]
	for _, id := range q.order {
		if _, ok := q.pulses[id]; ok {
			live = append(live, id)
		}
	}
	q.order = live
}

// Pending returns the number of unacknowledged pulses.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pulses)
}
