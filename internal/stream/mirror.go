package stream

import (
	"sync"
	"time"
)

// Mirror is a thread-safe fixed-capacity window over the most recent
// chunks a StreamingRequest has delivered. Adapted from the teacher's
// session ring buffer, generalized from "recent events" to "recent body
// chunks" and from a session registry to a single per-request mirror.
type Mirror struct {
	mu  sync.Mutex
	rb  *ringBuffer
	n   int
	sum int64
}

// NewMirror returns a Mirror retaining at most capacity chunks.
func NewMirror(capacity int) *Mirror {
	return &Mirror{rb: newRingBuffer(capacity)}
}

// Observe records a chunk as delivered at t. Observe copies data, so the
// caller may reuse or mutate it afterward.
func (m *Mirror) Observe(data []byte, t time.Time) {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rb.append(Chunk{Data: cp, Received: t})
	m.n++
	m.sum += int64(len(data))
}

// Snapshot returns the retained chunks in arrival order.
func (m *Mirror) Snapshot() []Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rb.snapshot()
}

// Stats returns the total chunk count and byte count observed, including
// chunks already evicted from the ring.
func (m *Mirror) Stats() (chunks int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n, m.sum
}
