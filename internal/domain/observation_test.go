package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnavailable(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cond := &DataItem{ID: "sys", Category: CategoryCondition, Type: "SYSTEM", DeviceUUID: "u1"}
	exec := &DataItem{ID: "exec", Category: CategoryEvent, Type: "EXECUTION", DeviceUUID: "u1"}

	c := NewUnavailable(cond, ts)
	require.NotNil(t, c.Condition)
	assert.Equal(t, LevelUnavailable, c.Condition.Level)
	assert.True(t, c.IsUnavailable())
	assert.True(t, c.IsCondition())

	e := NewUnavailable(exec, ts)
	assert.Equal(t, Unavailable, e.Value)
	assert.True(t, e.IsUnavailable())
	assert.Equal(t, "u1", e.DeviceUUID)
	assert.Equal(t, ts, e.Timestamp)
}

func TestSameValueIgnoresSequenceAndTime(t *testing.T) {
	a := &Observation{DataItemID: "x", Value: "1", Sequence: 1, Timestamp: time.Unix(1, 0)}
	b := &Observation{DataItemID: "x", Value: "1", Sequence: 9, Timestamp: time.Unix(9, 0)}
	assert.True(t, a.SameValue(b))

	b.Value = "2"
	assert.False(t, a.SameValue(b))
	assert.False(t, a.SameValue(nil))

	ds1 := &Observation{Entries: []Entry{{Key: "a", Value: "1"}}}
	ds2 := &Observation{Entries: []Entry{{Key: "a", Value: "1"}}}
	assert.True(t, ds1.SameValue(ds2))
	ds2.Entries[0].Value = "2"
	assert.False(t, ds1.SameValue(ds2))

	c1 := &Observation{Condition: &Condition{Level: LevelFault, NativeCode: "E1"}}
	c2 := &Observation{Condition: &Condition{Level: LevelFault, NativeCode: "E1"}}
	assert.True(t, c1.SameValue(c2))
	c2.Condition.Level = LevelWarning
	assert.False(t, c1.SameValue(c2))
}

func TestCloneIsDeep(t *testing.T) {
	o := &Observation{
		Condition: &Condition{Level: LevelFault},
		Entries:   []Entry{{Key: "r1", Cells: []Entry{{Key: "c", Value: "1"}}}},
		Samples:   []float64{1, 2},
	}
	c := o.Clone()
	c.Condition.Level = LevelNormal
	c.Entries[0].Cells[0].Value = "2"
	c.Samples[0] = 7

	assert.Equal(t, LevelFault, o.Condition.Level)
	assert.Equal(t, "1", o.Entries[0].Cells[0].Value)
	assert.Equal(t, 1.0, o.Samples[0])
}

func TestParseConditionLevel(t *testing.T) {
	l, ok := ParseConditionLevel(" fault ")
	assert.True(t, ok)
	assert.Equal(t, LevelFault, l)
	_, ok = ParseConditionLevel("bad")
	assert.False(t, ok)
}
