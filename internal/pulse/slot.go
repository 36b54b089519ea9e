package pulse

import "sync"

// Slot publishes the control channel's current outbound sender to the
// scheduler's probe tasks. The control-channel task is the only writer;
// probe tasks only read, so a read-heavy lock keeps disconnection visible
// without contending with check throughput.
type Slot struct {
	mu sync.RWMutex
	ch chan PushMessage
}

// NewSlot returns an empty slot (no live channel).
func NewSlot() *Slot {
	return &Slot{}
}

// Publish installs the outbound channel for the current session.
func (s *Slot) Publish(ch chan PushMessage) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
}

// Clear removes the sender when the session ends. The channel itself is
// never closed: probe tasks racing a disconnect may still try-send into the
// abandoned channel, which is then simply garbage collected.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.ch = nil
	s.mu.Unlock()
}

// Live reports whether a session sender is currently installed.
func (s *Slot) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ch != nil
}

// TrySend attempts a non-blocking send. ok is false when no sender is
// installed (disconnected); full is true when a sender exists but its buffer
// is at capacity, in which case the pulse is dropped by the caller's policy.
func (s *Slot) TrySend(msg PushMessage) (ok, full bool) {
	s.mu.RLock()
	ch := s.ch
	s.mu.RUnlock()

	if ch == nil {
		return false, false
	}
	select {
	case ch <- msg:
		return true, false
	default:
		return true, true
	}
}
