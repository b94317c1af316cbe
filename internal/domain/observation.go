package domain

import (
	"strings"
	"time"
)

// Unavailable is the value an observation carries when its data item has no valid value.
const Unavailable = "UNAVAILABLE"

// ConditionLevel is the state of a CONDITION observation.
type ConditionLevel string

const (
	LevelNormal      ConditionLevel = "NORMAL"
	LevelWarning     ConditionLevel = "WARNING"
	LevelFault       ConditionLevel = "FAULT"
	LevelUnavailable ConditionLevel = "UNAVAILABLE"
)

// ParseConditionLevel normalizes an adapter-supplied level.
func ParseConditionLevel(s string) (ConditionLevel, bool) {
	switch l := ConditionLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelNormal, LevelWarning, LevelFault, LevelUnavailable:
		return l, true
	default:
		return "", false
	}
}

// Condition is the payload of a CONDITION observation.
type Condition struct {
	Level          ConditionLevel `json:"level"`
	NativeCode     string         `json:"nativeCode,omitempty"`
	NativeSeverity string         `json:"nativeSeverity,omitempty"`
	Qualifier      string         `json:"qualifier,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// Entry is one key of a DATA_SET or one row of a TABLE. Table rows carry Cells.
// An entry with Removed set deletes the key from the current data set.
type Entry struct {
	Key     string  `json:"key"`
	Value   string  `json:"value,omitempty"`
	Cells   []Entry `json:"cells,omitempty"`
	Removed bool    `json:"removed,omitempty"`
}

// Equal compares two entries including table cells.
func (e Entry) Equal(o Entry) bool {
	if e.Key != o.Key || e.Value != o.Value || e.Removed != o.Removed || len(e.Cells) != len(o.Cells) {
		return false
	}
	for i := range e.Cells {
		if !e.Cells[i].Equal(o.Cells[i]) {
			return false
		}
	}
	return true
}

// Observation is one reported event for a data item. Sequence is assigned by the
// observation buffer; after that the value is never mutated.
type Observation struct {
	DeviceUUID     string         `json:"deviceUuid"`
	DataItemID     string         `json:"dataItemId"`
	Category       Category       `json:"category"`
	Type           string         `json:"type"`
	Representation Representation `json:"representation,omitempty"`
	Sequence       uint64         `json:"sequence"`
	Timestamp      time.Time      `json:"timestamp"`

	Value     string     `json:"value,omitempty"`
	Entries   []Entry    `json:"entries,omitempty"`
	Samples   []float64  `json:"samples,omitempty"`
	Rate      float64    `json:"sampleRate,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

// NewObservation starts an observation for the data item, copying the descriptive fields.
func NewObservation(item *DataItem, ts time.Time) *Observation {
	return &Observation{
		DeviceUUID:     item.DeviceUUID,
		DataItemID:     item.ID,
		Category:       item.Category,
		Type:           item.Type,
		Representation: item.Representation,
		Timestamp:      ts,
	}
}

// NewUnavailable builds the UNAVAILABLE observation for the item.
func NewUnavailable(item *DataItem, ts time.Time) *Observation {
	o := NewObservation(item, ts)
	if item.IsCondition() {
		o.Condition = &Condition{Level: LevelUnavailable}
	} else {
		o.Value = Unavailable
	}
	return o
}

// IsCondition reports whether this is a CONDITION observation.
func (o *Observation) IsCondition() bool { return o.Category == CategoryCondition }

// IsUnavailable reports whether the observation marks the item UNAVAILABLE.
func (o *Observation) IsUnavailable() bool {
	if o.Condition != nil {
		return o.Condition.Level == LevelUnavailable
	}
	return o.Value == Unavailable
}

// ConditionKey is the identity of an active condition within its data item.
func (o *Observation) ConditionKey() string {
	if o.Condition == nil {
		return ""
	}
	return o.Condition.NativeCode
}

// SameValue reports whether two observations carry identical values, ignoring
// sequence and timestamp.
func (o *Observation) SameValue(other *Observation) bool {
	if other == nil {
		return false
	}
	if o.Value != other.Value || o.Rate != other.Rate ||
		len(o.Entries) != len(other.Entries) || len(o.Samples) != len(other.Samples) {
		return false
	}
	if (o.Condition == nil) != (other.Condition == nil) {
		return false
	}
	if o.Condition != nil && *o.Condition != *other.Condition {
		return false
	}
	for i := range o.Entries {
		if !o.Entries[i].Equal(other.Entries[i]) {
			return false
		}
	}
	for i := range o.Samples {
		if o.Samples[i] != other.Samples[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (o *Observation) Clone() *Observation {
	c := *o
	if o.Condition != nil {
		cond := *o.Condition
		c.Condition = &cond
	}
	if o.Entries != nil {
		c.Entries = cloneEntries(o.Entries)
	}
	if o.Samples != nil {
		c.Samples = append([]float64(nil), o.Samples...)
	}
	return &c
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e
		if e.Cells != nil {
			out[i].Cells = cloneEntries(e.Cells)
		}
	}
	return out
}
