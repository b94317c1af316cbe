package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

func TestFileWALAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	o1 := &domain.Observation{DataItemID: "exec", Sequence: 10, Timestamp: ts, Value: "ACTIVE"}
	o2 := &domain.Observation{DataItemID: "sys", Sequence: 11, Timestamp: ts, Category: domain.CategoryCondition,
		Condition: &domain.Condition{Level: domain.LevelFault, NativeCode: "E1"}}

	id1, err := w.Append(o1)
	if err != nil || id1 == 0 {
		t.Fatalf("append observation 1: %v id=%d", err, id1)
	}
	id2, err := w.Append(o2)
	if err != nil || id2 != id1+1 {
		t.Fatalf("append observation 2: %v id=%d", err, id2)
	}

	var iterated []*domain.Observation
	if err := w.Iterate(1, func(id ports.WALEntryID, obs *domain.Observation) error {
		iterated = append(iterated, obs)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(iterated) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(iterated))
	}
	if iterated[0].Value != "ACTIVE" || !iterated[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected first observation: %+v", iterated[0])
	}
	if iterated[1].Condition == nil || iterated[1].Condition.NativeCode != "E1" {
		t.Fatalf("condition payload lost: %+v", iterated[1])
	}

	if err := w.Commit(id2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	// Reopen and ensure committed metadata was persisted.
	w2, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}

	stats := w2.Stats()
	if stats.LatestAppended != id2 {
		t.Fatalf("expected latest appended %d, got %d", id2, stats.LatestAppended)
	}
	if stats.OldestUncommitted != id2+1 {
		t.Fatalf("expected oldest uncommitted %d, got %d", id2+1, stats.OldestUncommitted)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close wal2: %v", err)
	}

	// A torn tail record is dropped on open.
	path := filepath.Join(dir, logName)
	before, _ := os.Stat(path)
	if err := appendGarbage(path); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	w3, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer w3.Close()
	if got := w3.Stats().SizeBytes; got != before.Size() {
		t.Fatalf("expected torn record to be truncated to %d bytes, got %d", before.Size(), got)
	}
	id3, err := w3.Append(o1)
	if err != nil || id3 != id2+1 {
		t.Fatalf("append after recovery: %v id=%d", err, id3)
	}
}

func TestFileWALTruncateCommitted(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	for i := 1; i <= 5; i++ {
		if _, err := w.Append(&domain.Observation{DataItemID: "exec", Sequence: uint64(i), Value: "READY"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	full := w.Stats().SizeBytes
	if err := w.Commit(3); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.TruncateCommitted(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if got := w.Stats().SizeBytes; got >= full {
		t.Fatalf("expected wal to shrink below %d bytes, got %d", full, got)
	}

	var ids []ports.WALEntryID
	if err := w.Iterate(0, func(id ports.WALEntryID, obs *domain.Observation) error {
		ids = append(ids, id)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 5 {
		t.Fatalf("expected ids [4 5] after truncate, got %v", ids)
	}

	id, err := w.Append(&domain.Observation{DataItemID: "exec", Sequence: 6})
	if err != nil || id != 6 {
		t.Fatalf("append after truncate: %v id=%d", err, id)
	}
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0xFF, 0xAA})
	return err
}
