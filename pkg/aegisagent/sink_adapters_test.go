package aegisagent

import (
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

func archivedObservation(value string, seq uint64) *Observation {
	return &Observation{
		DataItemID: "exec",
		Category:   domain.CategoryEvent,
		Type:       "EXECUTION",
		Sequence:   seq,
		Timestamp:  time.Unix(1, 0),
		Value:      value,
	}
}

func TestNewCallbackSink(t *testing.T) {
	var received []*Observation
	sink := NewCallbackSink("cb", func(batch []*Observation) error {
		received = append(received, batch...)
		return nil
	})

	input := archivedObservation("ACTIVE", 42)
	if err := sink.WriteBatch([]*Observation{input}); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 batch entry, got %d", len(received))
	}
	got := received[0]
	if got.DataItemID != input.DataItemID || got.Sequence != input.Sequence || got.Value != "ACTIVE" {
		t.Fatalf("mismatched observation payload: %+v vs %+v", got, input)
	}
	got.Value = "STOPPED"
	if input.Value != "ACTIVE" {
		t.Fatalf("callback received the archive's own observation instead of a copy")
	}
}

func TestNewCallbackSinkNilHandler(t *testing.T) {
	sink := NewCallbackSink("", nil)
	if sink.Name() != "callback" {
		t.Fatalf("expected default name, got %q", sink.Name())
	}
	if err := sink.WriteBatch([]*Observation{archivedObservation("READY", 1)}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelSink(t *testing.T) {
	sink, ch, closeFn := NewChannelSink("chan", 1)
	defer closeFn()

	input := archivedObservation("READY", 7)
	errCh := make(chan error, 1)

	go func() {
		errCh <- sink.WriteBatch([]*Observation{input})
	}()

	var batch []*Observation
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].Sequence != input.Sequence {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if err := sink.WriteBatch([]*Observation{input}); !errors.Is(err, ErrChannelSinkClosed) {
		t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
	}
}

func TestChannelSinkWriteAfterCloseNeverSends(t *testing.T) {
	// A buffered channel leaves the send ready, so only the closed check keeps
	// WriteBatch off the closed channel.
	for i := 0; i < 200; i++ {
		sink, _, closeFn := NewChannelSink("chan", 4)
		closeFn()
		if err := sink.WriteBatch([]*Observation{archivedObservation("READY", uint64(i))}); !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("run %d: expected ErrChannelSinkClosed, got %v", i, err)
		}
		if err := sink.WriteBatch(nil); !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("run %d: expected ErrChannelSinkClosed for an empty batch, got %v", i, err)
		}
	}
}

func TestChannelSinkCloseUnblocksWriter(t *testing.T) {
	sink, _, closeFn := NewChannelSink("", 0)
	errCh := make(chan error, 1)
	go func() { errCh <- sink.WriteBatch([]*Observation{archivedObservation("READY", 1)}) }()

	time.Sleep(10 * time.Millisecond)
	closeFn()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelSinkClosed) {
			t.Fatalf("expected ErrChannelSinkClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer stayed blocked after close")
	}
}

func TestNewFilteredSink(t *testing.T) {
	var got [][]*Observation
	inner := NewCallbackSink("cb", func(batch []*Observation) error {
		got = append(got, batch)
		return nil
	})
	sink := NewFilteredSink(inner, "exec")
	if sink.Name() != "cb/filtered" {
		t.Fatalf("unexpected name %q", sink.Name())
	}

	other := archivedObservation("AVAILABLE", 2)
	other.DataItemID = "avail"
	if err := sink.WriteBatch([]*Observation{archivedObservation("ACTIVE", 1), other, archivedObservation("STOPPED", 3)}); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if err := sink.WriteBatch([]*Observation{other}); err != nil {
		t.Fatalf("WriteBatch returned error: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 2 || got[0][0].Sequence != 1 || got[0][1].Sequence != 3 {
		t.Fatalf("expected one batch with sequences 1 and 3, got %+v", got)
	}
}
