package queue

import (
	"testing"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	o1 := &domain.Observation{DataItemID: "exec", Sequence: 1}
	o2 := &domain.Observation{DataItemID: "pos", Sequence: 2}

	if !q.Enqueue(1, o1) || !q.Enqueue(2, o2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].ID != 1 || batch[0].Observation.DataItemID != "exec" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].ID != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
	if q.DequeueBatch(5) != nil {
		t.Fatalf("empty queue should return nil batch")
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	obs := &domain.Observation{DataItemID: "cap"}

	if !q.Enqueue(1, obs) || !q.Enqueue(2, obs) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3, obs) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(4, obs) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueWrapsAround(t *testing.T) {
	q := NewMemQueue(3)
	obs := &domain.Observation{DataItemID: "wrap"}

	for id := 1; id <= 3; id++ {
		q.Enqueue(ports.WALEntryID(id), obs)
	}
	q.DequeueBatch(2)
	q.Enqueue(4, obs)
	q.Enqueue(5, obs)

	batch := q.DequeueBatch(0)
	if len(batch) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(batch))
	}
	for i, want := range []uint64{3, 4, 5} {
		if uint64(batch[i].ID) != want {
			t.Fatalf("entry %d: expected id %d, got %d", i, want, batch[i].ID)
		}
	}
}
