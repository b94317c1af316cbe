package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

// StateStore persists the agent's instance id and sequence position between runs.
// Load reports false when nothing has been saved yet.
type StateStore interface {
	Load() (domain.AgentState, bool, error)
	Save(state domain.AgentState) error
}
