package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent-state.yaml")
	store := NewFileStore(path)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	saved := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	want := domain.AgentState{InstanceID: 1740816000, NextSequence: 12345, SavedAt: saved}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := NewFileStore(path).Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.InstanceID != want.InstanceID || got.NextSequence != want.NextSequence || !got.SavedAt.Equal(saved) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("instance_id: [oops"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileStore(path).Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
