package buffer

import (
	"sync"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// Stats is a consistent view of the buffer window and counters.
type Stats struct {
	Capacity      int
	Size          int
	FirstSequence uint64
	LastSequence  uint64
	NextSequence  uint64
	Appended      uint64
	Suppressed    uint64
	Evicted       uint64
}

// Window is the result of a ranged read.
type Window struct {
	Observations []*domain.Observation
	// EndSequence is where a follow-up read resumes: one past the last
	// sequence examined.
	EndSequence   uint64
	FirstSequence uint64
	LastSequence  uint64
	NextSequence  uint64
}

// ObservationBuffer is the sequenced observation history. Sequence assignment,
// slot write and index update happen in one critical section; readers take the
// read lock and subscribers are signalled after the write lock is released.
type ObservationBuffer struct {
	mu       sync.RWMutex
	capacity uint64
	slots    []*domain.Observation
	first    uint64
	next     uint64

	current     *checkpoint
	base        *checkpoint   // state folded from evicted observations, seq == first-1
	checkpoints []*checkpoint // periodic, ascending, all newer than base
	frequency   uint64

	appended   uint64
	suppressed uint64
	evicted    uint64

	subs subscribers
}

// NewObservationBuffer creates a buffer holding the last capacity observations.
func NewObservationBuffer(capacity int, opts ...Option) *ObservationBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	o := applyOptions(opts...)
	b := &ObservationBuffer{
		capacity:  uint64(capacity),
		slots:     make([]*domain.Observation, capacity),
		frequency: uint64(o.checkpointFrequency),
	}
	b.reset(o.startSequence)
	b.subs.init()
	return b
}

func (b *ObservationBuffer) reset(start uint64) {
	b.first = start
	b.next = start
	b.current = newCheckpoint(start - 1)
	b.base = newCheckpoint(start - 1)
	b.checkpoints = nil
}

// SetNextSequence moves the numbering of an empty buffer, used when restoring
// persisted state. It fails once anything has been appended.
func (b *ObservationBuffer) SetNextSequence(seq uint64) error {
	if seq == 0 {
		return domain.NewError(domain.KindInvalidRequest, "sequence must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appended > 0 {
		return domain.NewError(domain.KindInvalidRequest, "buffer already holds observations")
	}
	b.reset(seq)
	return nil
}

// Append stores obs under the next sequence and returns it. The buffer keeps
// its own copy; the caller's value is not modified.
func (b *ObservationBuffer) Append(obs *domain.Observation) uint64 {
	seq, _ := b.append(obs, false)
	return seq
}

// AppendIfChanged appends obs unless it repeats the data item's current value.
// Condition observations are always appended. For data sets and tables only
// changed entries are kept and the observation is dropped if none remain.
// The second result is false when the observation was suppressed.
func (b *ObservationBuffer) AppendIfChanged(obs *domain.Observation) (uint64, bool) {
	return b.append(obs, true)
}

func (b *ObservationBuffer) append(obs *domain.Observation, dedup bool) (uint64, bool) {
	stored := obs.Clone()

	b.mu.Lock()
	if dedup && !stored.IsCondition() {
		if !b.changedLocked(stored) {
			b.suppressed++
			b.mu.Unlock()
			return 0, false
		}
	}

	seq := b.next
	stored.Sequence = seq
	idx := seq % b.capacity
	if evicted := b.slots[idx]; evicted != nil {
		b.base.apply(evicted)
		b.evicted++
	}
	b.slots[idx] = stored
	b.next++
	if b.next-b.first > b.capacity {
		b.first = b.next - b.capacity
	}
	b.appended++

	b.current.apply(stored)
	b.pruneCheckpointsLocked()
	if seq%b.frequency == 0 {
		b.checkpoints = append(b.checkpoints, b.current.clone())
	}
	b.mu.Unlock()

	b.subs.notify(stored.DataItemID)
	return seq, true
}

// changedLocked reports whether obs differs from the current state and, for
// keyed representations, trims it to the entries that change something.
func (b *ObservationBuffer) changedLocked(obs *domain.Observation) bool {
	prev := b.current.items[obs.DataItemID].Latest
	if prev == nil {
		return true
	}
	if obs.Representation.IsKeyed() && !obs.IsUnavailable() && !prev.IsUnavailable() {
		obs.Entries = changedEntries(prev.Entries, obs.Entries)
		return len(obs.Entries) > 0
	}
	return !obs.SameValue(prev)
}

func (b *ObservationBuffer) pruneCheckpointsLocked() {
	i := 0
	for i < len(b.checkpoints) && b.checkpoints[i].seq <= b.base.seq {
		i++
	}
	if i > 0 {
		b.checkpoints = append(b.checkpoints[:0], b.checkpoints[i:]...)
	}
}

// Range returns up to max observations starting at from. It fails with
// OutOfRange if from is older than the first buffered sequence or past the
// next one. from == next yields an empty result.
func (b *ObservationBuffer) Range(from uint64, max int) ([]*domain.Observation, error) {
	w, err := b.Scan(from, max, nil)
	if err != nil {
		return nil, err
	}
	return w.Observations, nil
}

// Scan is Range with a data item filter. Non-matching observations are
// skipped without counting toward max.
func (b *ObservationBuffer) Scan(from uint64, max int, filter Filter) (Window, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	w := Window{FirstSequence: b.first, LastSequence: b.next - 1, NextSequence: b.next}
	if from < b.first || from > b.next {
		return w, domain.NewError(domain.KindOutOfRange,
			"'from' must be between %d and %d, got %d", b.first, b.next, from)
	}
	seq := from
	for ; seq < b.next && len(w.Observations) < max; seq++ {
		obs := b.slots[seq%b.capacity]
		if filter.Match(obs.DataItemID) {
			w.Observations = append(w.Observations, obs)
		}
	}
	w.EndSequence = seq
	return w, nil
}

// Snapshot returns the current state of the data items passing filter.
func (b *ObservationBuffer) Snapshot(filter Filter) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Sequence:      b.current.seq,
		FirstSequence: b.first,
		LastSequence:  b.next - 1,
		NextSequence:  b.next,
		Items:         b.current.view(filter),
	}
}

// StateAt rebuilds the state as it was right after sequence at was appended.
// at must lie within the buffered window.
func (b *ObservationBuffer) StateAt(at uint64, filter Filter) (Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.next == b.first || at < b.first || at >= b.next {
		return Snapshot{}, domain.NewError(domain.KindOutOfRange,
			"'at' must be between %d and %d, got %d", b.first, b.next-1, at)
	}

	start := b.base
	for _, cp := range b.checkpoints {
		if cp.seq > at {
			break
		}
		start = cp
	}
	state := start.clone()
	for seq := start.seq + 1; seq <= at; seq++ {
		state.apply(b.slots[seq%b.capacity])
	}
	return Snapshot{
		Sequence:      at,
		FirstSequence: b.first,
		LastSequence:  b.next - 1,
		NextSequence:  b.next,
		Items:         state.view(filter),
	}, nil
}

// Latest returns the current state of one data item.
func (b *ObservationBuffer) Latest(dataItemID string) (Current, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cur, ok := b.current.items[dataItemID]
	return cur, ok
}

// Stats returns the window bookkeeping and counters.
func (b *ObservationBuffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Capacity:      int(b.capacity),
		Size:          int(b.next - b.first),
		FirstSequence: b.first,
		LastSequence:  b.next - 1,
		NextSequence:  b.next,
		Appended:      b.appended,
		Suppressed:    b.suppressed,
		Evicted:       b.evicted,
	}
}

// Subscribe registers interest in appends of the data items passing filter.
// The subscription must be cancelled when the reader is done.
func (b *ObservationBuffer) Subscribe(filter Filter) *Subscription {
	return b.subs.add(filter)
}
