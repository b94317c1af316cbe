// Package state keeps the agent's instance id and next sequence in a YAML file.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

var _ ports.StateStore = (*FileStore)(nil)

type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (domain.AgentState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.AgentState{}, false, nil
		}
		return domain.AgentState{}, false, fmt.Errorf("state.Load: read failed: %w", err)
	}
	var st domain.AgentState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return domain.AgentState{}, false, fmt.Errorf("state.Load: parse %s failed: %w", s.path, err)
	}
	return st, true, nil
}

// Save replaces the file atomically.
func (s *FileStore) Save(st domain.AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("state.Save: encode failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state.Save: mkdir failed: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state.Save: write failed: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state.Save: rename failed: %w", err)
	}
	return nil
}
