package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

// Collector is an adapter connection feeding the agent. Start returns once the
// collector is running; events flow on out until Stop.
type Collector interface {
	Name() string
	Start(out chan<- domain.AdapterEvent) error
	Stop() error
}
