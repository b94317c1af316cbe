package domain

import "time"

// AgentState is what survives a restart: the run identity and where sequence
// numbering continues.
type AgentState struct {
	InstanceID   uint64    `yaml:"instance_id" json:"instanceId"`
	NextSequence uint64    `yaml:"next_sequence" json:"nextSequence"`
	SavedAt      time.Time `yaml:"saved_at,omitempty" json:"savedAt,omitempty"`
}
