package queue

import (
	"sync"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of WAL-backed observations. It is a
// fixed ring so dequeueing never shifts the backing array.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.QueuedObservation
	head int
	size int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{data: make([]ports.QueuedObservation, capacity)}
}

func (q *MemQueue) Enqueue(id ports.WALEntryID, obs *domain.Observation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.data) {
		return false
	}
	q.data[(q.head+q.size)%len(q.data)] = ports.QueuedObservation{ID: id, Observation: obs}
	q.size++
	return true
}

func (q *MemQueue) DequeueBatch(max int) []ports.QueuedObservation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]ports.QueuedObservation, max)
	for i := range out {
		idx := (q.head + i) % len(q.data)
		out[i] = q.data[idx]
		q.data[idx] = ports.QueuedObservation{}
	}
	q.head = (q.head + max) % len(q.data)
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *MemQueue) Cap() int { return len(q.data) }

var _ ports.ObservationQueue = (*MemQueue)(nil)
