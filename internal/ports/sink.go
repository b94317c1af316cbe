package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

// Sink archives observations outside the agent's bounded history.
type Sink interface {
	WriteBatch(obs []*domain.Observation) error
	Name() string
}
