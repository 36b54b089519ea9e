// Package scheduler runs every enabled monitor from one cooperative loop:
// a due-time heap decides what fires, a global semaphore caps concurrent
// checks, and a stable per-key jitter spreads firings inside the second.
package scheduler

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/heartbeat"
	"github.com/sureshkrishnan-v/pulsemon/internal/probes"
	"github.com/sureshkrishnan-v/pulsemon/internal/telemetry"
)

const (
	// jitterMaxMs spreads first and recurring firings over half a second.
	jitterMaxMs = 500

	// maxDuePerTick bounds one dispatch pass so a huge backlog cannot
	// starve config updates.
	maxDuePerTick = 20_000

	// permitRetryDelay defers a due monitor when the concurrency cap is
	// saturated; backpressure lands on the schedule, not the network.
	permitRetryDelay = 50 * time.Millisecond

	// idleSleep is the poll interval with an empty monitor set.
	idleSleep = 200 * time.Millisecond
)

type dueItem struct {
	when time.Time
	key  string
}

// dueHeap is a min-heap on (when, key).
type dueHeap []dueItem

func (h dueHeap) Len() int { return len(h) }
func (h dueHeap) Less(i, j int) bool {
	if !h[i].when.Equal(h[j].when) {
		return h[i].when.Before(h[j].when)
	}
	return h[i].key < h[j].key
}
func (h dueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)        { *h = append(*h, x.(dueItem)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler owns the entries map and due heap exclusively; both are only
// touched from Run's goroutine, so no lock guards them.
type Scheduler struct {
	logger     *zap.Logger
	dispatcher *heartbeat.Dispatcher
	sem        *semaphore.Weighted

	entries map[string]config.Monitor
	heap    dueHeap

	configCh chan *config.Config

	// checkFn runs one probe cycle; replaced in tests.
	checkFn func(ctx context.Context, m *config.Monitor)
}

// New creates a scheduler with the given global concurrency cap.
func New(maxConcurrentChecks int, dispatcher *heartbeat.Dispatcher, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		logger:     logger,
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(int64(maxConcurrentChecks)),
		entries:    make(map[string]config.Monitor),
		configCh:   make(chan *config.Config, 1),
	}
	s.checkFn = s.runCheck
	return s
}

// Apply hands a new monitor set to the running loop. The latest set wins;
// an undelivered older one is replaced.
func (s *Scheduler) Apply(cfg *config.Config) {
	for {
		select {
		case s.configCh <- cfg:
			return
		default:
			select {
			case <-s.configCh:
			default:
			}
		}
	}
}

// Run is the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = idleSleep
		} else if d := time.Until(s.heap[0].when); d > 0 {
			wait = d
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopping")
			return ctx.Err()

		case cfg := <-s.configCh:
			timer.Stop()
			s.rebuild(cfg)
			s.logger.Info("Scheduler applied new config", zap.Int("monitors", len(s.entries)))

		case <-timer.C:
			s.dispatchDue(ctx)
		}
	}
}

// rebuild atomically replaces the entries map and due heap. Surviving keys
// keep their stable jitter, so their sub-second offsets are unchanged.
func (s *Scheduler) rebuild(cfg *config.Config) {
	s.entries = make(map[string]config.Monitor, len(cfg.Monitors))
	s.heap = s.heap[:0]

	now := time.Now()
	for _, m := range cfg.Monitors {
		if !m.Enabled {
			continue
		}
		key := m.Key()
		s.entries[key] = m

		// first run "soon", spread by jitter
		s.heap = append(s.heap, dueItem{when: now.Add(stableJitter(key, jitterMaxMs)), key: key})
	}
	heap.Init(&s.heap)

	telemetry.MonitorsActive.Set(float64(len(s.entries)))
}

// dispatchDue fires every due monitor, rescheduling each before dispatch so
// the heap never holds more than one pending entry per key and a paused
// process cannot build a catch-up storm.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	for processed := 0; processed < maxDuePerTick && len(s.heap) > 0; processed++ {
		if s.heap[0].when.After(time.Now()) {
			return
		}
		item := heap.Pop(&s.heap).(dueItem)

		m, ok := s.entries[item.key]
		if !ok {
			// removed by a reconfigure
			continue
		}

		next := time.Now().
			Add(time.Duration(m.Interval) * time.Second).
			Add(stableJitter(item.key, jitterMaxMs))
		heap.Push(&s.heap, dueItem{when: next, key: item.key})

		if !s.sem.TryAcquire(1) {
			heap.Push(&s.heap, dueItem{when: time.Now().Add(permitRetryDelay), key: item.key})
			continue
		}

		monitor := m
		go func() {
			defer s.sem.Release(1)
			s.checkFn(ctx, &monitor)
		}()
	}
}

// stableJitter derives a deterministic per-key offset in [0, maxMs]. The
// same key lands on the same sub-second slot across restarts and
// reconfigurations.
func stableJitter(key string, maxMs uint64) time.Duration {
	if maxMs == 0 {
		return 0
	}
	return time.Duration(xxhash.Sum64String(key)%(maxMs+1)) * time.Millisecond
}

// runCheck executes one probe cycle and delivers the pulse on success.
// Failed probes are not retried and emit nothing; the next interval tick is
// the next attempt.
func (s *Scheduler) runCheck(ctx context.Context, m *config.Monitor) {
	startWall := time.Now()
	res, err := probes.Select(m)(ctx, m)
	endWall := time.Now()

	if err != nil {
		telemetry.ChecksTotal.WithLabelValues("fail").Inc()
		if m.Debug {
			s.logger.Error("Monitor check failed",
				zap.String("monitor", m.Name), zap.Error(err))
		}
		return
	}
	telemetry.ChecksTotal.WithLabelValues("ok").Inc()

	latencyMs, ok := res.Latency()
	if !ok {
		latencyMs = float64(endWall.Sub(startWall)) / float64(time.Millisecond)
	}
	latencyMs = roundTo3Decimals(latencyMs)

	if m.Debug {
		s.logger.Info("Monitor check succeeded",
			zap.String("monitor", m.Name), zap.Float64("latency_ms", latencyMs))
	}

	if err := s.dispatcher.Send(ctx, m, startWall, endWall, latencyMs, res); err != nil {
		s.logger.Error("Failed to send heartbeat",
			zap.String("monitor", m.Name), zap.Error(err))
	}
}

func roundTo3Decimals(v float64) float64 {
	return math.Round(v*1000) / 1000
}
