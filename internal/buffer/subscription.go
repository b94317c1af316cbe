package buffer

import "sync"

// Subscription signals that matching observations were appended. Signals
// coalesce: one pending signal stands for any number of appends, so the
// reader should drain the buffer from its own cursor after each wake-up.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan struct{}
	owner  *subscribers
	once   sync.Once
}

// C is signalled after each append that matches the filter.
func (s *Subscription) C() <-chan struct{} { return s.ch }

// Cancel unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.owner.remove(s.id) })
}

type subscribers struct {
	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Subscription
}

func (s *subscribers) init() {
	s.active = make(map[uint64]*Subscription)
}

func (s *subscribers) add(filter Filter) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &Subscription{id: s.nextID, filter: filter, ch: make(chan struct{}, 1), owner: s}
	s.active[sub.id] = sub
	return sub
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *subscribers) notify(dataItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.active {
		if !sub.filter.Match(dataItemID) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Subscribers returns the number of live subscriptions.
func (b *ObservationBuffer) Subscribers() int { return b.subs.count() }
