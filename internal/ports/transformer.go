package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

// Transformer rewrites an observation before it is buffered, e.g. converting
// native units. Returning the input unchanged is valid.
type Transformer interface {
	Transform(item *domain.DataItem, obs *domain.Observation) (*domain.Observation, error)
	Version() uint16
}
