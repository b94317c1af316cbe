package aegisagent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("aegisagent: channel sink closed")

// ObservationBatchSink is invoked with ordered batches of archived observations.
// The observations are copies the callee may keep.
type ObservationBatchSink func([]*Observation) error

// NewCallbackSink wraps fn as a Sink.
func NewCallbackSink(name string, fn ObservationBatchSink) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink delivers archived batches on a channel. The returned function
// closes the channel and must be called once the runtime has stopped writing.
func NewChannelSink(name string, buffer int) (Sink, <-chan []*Observation, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []*Observation, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   ObservationBatchSink
}

func (s *callbackSink) WriteBatch(batch []*domain.Observation) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(batch) == 0 {
		return nil
	}
	return s.fn(copyBatch(batch))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []*Observation
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) WriteBatch(batch []*domain.Observation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// close() cannot close ch while the read lock is held, so once closed is
	// seen open here the send below is safe.
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}
	if len(batch) == 0 {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- copyBatch(batch):
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

// close unblocks pending writers before closing the channel they send on.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// NewFilteredSink forwards to inner only the observations of the given data
// items. Batches with nothing left are acknowledged without a write.
func NewFilteredSink(inner Sink, dataItemIDs ...string) Sink {
	ids := make(map[string]struct{}, len(dataItemIDs))
	for _, id := range dataItemIDs {
		ids[id] = struct{}{}
	}
	return &filteredSink{inner: inner, ids: ids}
}

type filteredSink struct {
	inner Sink
	ids   map[string]struct{}
}

func (s *filteredSink) WriteBatch(batch []*domain.Observation) error {
	kept := make([]*domain.Observation, 0, len(batch))
	for _, o := range batch {
		if _, ok := s.ids[o.DataItemID]; ok {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return s.inner.WriteBatch(kept)
}

func (s *filteredSink) Name() string { return s.inner.Name() + "/filtered" }

func copyBatch(batch []*domain.Observation) []*Observation {
	out := make([]*Observation, len(batch))
	for i, o := range batch {
		out[i] = o.Clone()
	}
	return out
}
