package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

type Observability interface {
	LogDebug(msg string, fields ...Field)
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, err error, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDLQ(id WALEntryID, obs *domain.Observation, err error)
}

type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Discard is an Observability that drops everything.
var Discard Observability = discard{}

type discard struct{}

func (discard) LogDebug(string, ...Field)                        {}
func (discard) LogInfo(string, ...Field)                         {}
func (discard) LogWarn(string, error, ...Field)                  {}
func (discard) LogError(string, error, ...Field)                 {}
func (discard) LogCritical(string, error, ...Field)              {}
func (discard) IncCounter(string, float64)                       {}
func (discard) ObserveLatency(string, float64)                   {}
func (discard) SetGauge(string, float64)                         {}
func (discard) RecordDLQ(WALEntryID, *domain.Observation, error) {}
