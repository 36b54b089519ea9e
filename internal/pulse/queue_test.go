package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testQueue(cfg QueueConfig) *Queue {
	return NewQueue(cfg, zap.NewNop())
}

func TestQueueEnqueueAssignsUniqueIDs(t *testing.T) {
	q := testQueue(DefaultQueueConfig())

	id1 := q.Enqueue(PushMessage{Action: "push", Token: "a"})
	id2 := q.Enqueue(PushMessage{Action: "push", Token: "b"})

	require.NotEmpty(t, id1)
	require.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, q.Pending())
}

func TestQueueAcknowledge(t *testing.T) {
	q := testQueue(DefaultQueueConfig())
	id := q.Enqueue(PushMessage{Token: "a"})

	assert.True(t, q.Acknowledge(id))
	assert.Equal(t, 0, q.Pending())

	// unknown ids are a no-op
	assert.False(t, q.Acknowledge(id))
	assert.False(t, q.Acknowledge("never-issued"))
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxQueueSize = 3
	q := testQueue(cfg)

	first := q.Enqueue(PushMessage{Token: "t1"})
	q.Enqueue(PushMessage{Token: "t2"})
	q.Enqueue(PushMessage{Token: "t3"})
	q.Enqueue(PushMessage{Token: "t4"})

	assert.Equal(t, 3, q.Pending())
	assert.False(t, q.Acknowledge(first), "oldest pulse should have been evicted")

	var tokens []string
	for {
		msg, ok := q.NextToSend()
		if !ok || len(tokens) == 3 {
			break
		}
		tokens = append(tokens, msg.Token)
	}
	assert.Equal(t, []string{"t2", "t3", "t4"}, tokens)
}

func TestQueueNextToSendRotatesAndCountsAttempts(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxRetries = 2
	q := testQueue(cfg)

	q.Enqueue(PushMessage{Token: "a"})
	q.Enqueue(PushMessage{Token: "b"})

	m1, ok := q.NextToSend()
	require.True(t, ok)
	m2, ok := q.NextToSend()
	require.True(t, ok)
	assert.Equal(t, "a", m1.Token)
	assert.Equal(t, "b", m2.Token)

	// second pass: both at attempts=2, third pass drops them
	_, ok = q.NextToSend()
	require.True(t, ok)
	_, ok = q.NextToSend()
	require.True(t, ok)

	_, ok = q.NextToSend()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Pending())
}

func TestQueueNextToSendSkipsAcknowledged(t *testing.T) {
	q := testQueue(DefaultQueueConfig())

	id1 := q.Enqueue(PushMessage{Token: "a"})
	q.Enqueue(PushMessage{Token: "b"})
	q.Acknowledge(id1)

	msg, ok := q.NextToSend()
	require.True(t, ok)
	assert.Equal(t, "b", msg.Token)
}

func TestQueueNextBatchHonorsRetryDelay(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.RetryDelay = time.Hour
	q := testQueue(cfg)

	q.Enqueue(PushMessage{Token: "a"})
	q.Enqueue(PushMessage{Token: "b"})

	batch := q.NextBatchToSend(10)
	require.Len(t, batch, 2, "never-sent pulses are immediately due")

	// both were just sent; nothing is due within RetryDelay
	batch = q.NextBatchToSend(10)
	assert.Empty(t, batch)
	assert.Equal(t, 2, q.Pending(), "not-yet-due pulses stay queued")
}

func TestQueueNextBatchRespectsMax(t *testing.T) {
	q := testQueue(DefaultQueueConfig())
	for i := 0; i < 5; i++ {
		q.Enqueue(PushMessage{Token: "t"})
	}

	batch := q.NextBatchToSend(3)
	assert.Len(t, batch, 3)
	assert.Equal(t, 5, q.Pending())
}

func TestQueuePruneExpired(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = 0
	q := testQueue(cfg)

	q.Enqueue(PushMessage{Token: "a"})
	q.Enqueue(PushMessage{Token: "b"})
	q.NextBatchToSend(10) // attempts -> 1 == MaxRetries

	q.PruneExpired()
	assert.Equal(t, 0, q.Pending())

	_, ok := q.NextToSend()
	assert.False(t, ok)
}

func TestQueueConfigFromEnv(t *testing.T) {
	t.Setenv("PULSE_MAX_QUEUE_SIZE", "42")
	t.Setenv("PULSE_MAX_RETRIES", "7")
	t.Setenv("PULSE_RETRY_DELAY_MS", "250")

	cfg := QueueConfigFromEnv()
	assert.Equal(t, 42, cfg.MaxQueueSize)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
}

func TestFormatTimeWireLayout(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	assert.Equal(t, "2025-03-14T09:26:53.589Z", FormatTime(ts))

	// non-UTC inputs are normalized
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2025-03-14T09:26:53.589Z", FormatTime(ts.In(est)))
}
