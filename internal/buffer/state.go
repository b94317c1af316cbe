package buffer

import (
	"maps"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// Filter restricts a read or a subscription to a set of data item ids.
// A nil Filter matches everything.
type Filter map[string]struct{}

// NewFilter builds a filter from ids; no ids yields a nil (match-all) filter.
func NewFilter(ids ...string) Filter {
	if len(ids) == 0 {
		return nil
	}
	f := make(Filter, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

// Match reports whether the data item id passes the filter.
func (f Filter) Match(id string) bool {
	if f == nil {
		return true
	}
	_, ok := f[id]
	return ok
}

// Current is the state of one data item.
type Current struct {
	// Latest is the most recent observation. For data sets and tables its
	// entries are the merged result of every observation so far.
	Latest *domain.Observation
	// Conditions holds the active WARNING and FAULT entries of a condition item
	// in activation order.
	Conditions []*domain.Observation
}

// Observations returns what a current document reports for the item: the
// active condition list when there is one, otherwise the latest observation.
func (c Current) Observations() []*domain.Observation {
	if len(c.Conditions) > 0 {
		return c.Conditions
	}
	if c.Latest == nil {
		return nil
	}
	return []*domain.Observation{c.Latest}
}

// Snapshot is a point-in-time view of every data item's state.
type Snapshot struct {
	// Sequence is the last sequence folded into the state.
	Sequence      uint64
	FirstSequence uint64
	LastSequence  uint64
	NextSequence  uint64
	Items         map[string]Current
}

// checkpoint is the state of every data item after applying all observations
// up to and including seq. Current values in the map are replaced, never
// mutated, so a shallow map copy is a valid clone.
type checkpoint struct {
	seq   uint64
	items map[string]Current
}

func newCheckpoint(seq uint64) *checkpoint {
	return &checkpoint{seq: seq, items: make(map[string]Current)}
}

func (c *checkpoint) clone() *checkpoint {
	return &checkpoint{seq: c.seq, items: maps.Clone(c.items)}
}

func (c *checkpoint) view(filter Filter) map[string]Current {
	out := make(map[string]Current, len(c.items))
	for id, cur := range c.items {
		if filter.Match(id) {
			out[id] = cur
		}
	}
	return out
}

// apply folds one sequenced observation into the state.
func (c *checkpoint) apply(obs *domain.Observation) {
	c.seq = obs.Sequence
	prev := c.items[obs.DataItemID]
	if obs.IsCondition() {
		c.items[obs.DataItemID] = applyCondition(prev, obs)
		return
	}
	if obs.Representation.IsKeyed() && !obs.IsUnavailable() && prev.Latest != nil && !prev.Latest.IsUnavailable() {
		merged := obs.Clone()
		merged.Entries = mergeEntries(prev.Latest.Entries, obs.Entries)
		c.items[obs.DataItemID] = Current{Latest: merged}
		return
	}
	if obs.Representation.IsKeyed() {
		fresh := obs.Clone()
		fresh.Entries = mergeEntries(nil, obs.Entries)
		c.items[obs.DataItemID] = Current{Latest: fresh}
		return
	}
	c.items[obs.DataItemID] = Current{Latest: obs}
}

// applyCondition implements the clearing rules: UNAVAILABLE and a NORMAL
// without a native code clear every active entry, a NORMAL with a code clears
// the entry of that code, and WARNING/FAULT activate or replace by code.
func applyCondition(prev Current, obs *domain.Observation) Current {
	next := Current{Latest: obs}
	if obs.Condition == nil {
		return next
	}
	key := obs.ConditionKey()
	switch obs.Condition.Level {
	case domain.LevelUnavailable:
		return next
	case domain.LevelNormal:
		if key == "" {
			return next
		}
		for _, active := range prev.Conditions {
			if active.ConditionKey() != key {
				next.Conditions = append(next.Conditions, active)
			}
		}
		return next
	default:
		replaced := false
		for _, active := range prev.Conditions {
			if active.ConditionKey() == key {
				next.Conditions = append(next.Conditions, obs)
				replaced = true
				continue
			}
			next.Conditions = append(next.Conditions, active)
		}
		if !replaced {
			next.Conditions = append(next.Conditions, obs)
		}
		return next
	}
}

// mergeEntries overlays update onto base by key. Removed entries delete the
// key. The result keeps first-seen key order.
func mergeEntries(base, update []domain.Entry) []domain.Entry {
	out := make([]domain.Entry, 0, len(base)+len(update))
	index := make(map[string]int, len(base)+len(update))
	for _, e := range base {
		index[e.Key] = len(out)
		out = append(out, e)
	}
	for _, e := range update {
		if i, ok := index[e.Key]; ok {
			out[i] = e
			continue
		}
		index[e.Key] = len(out)
		out = append(out, e)
	}
	kept := out[:0]
	for _, e := range out {
		if !e.Removed {
			kept = append(kept, e)
		}
	}
	return kept
}

// changedEntries drops entries of update that would not alter current.
func changedEntries(current, update []domain.Entry) []domain.Entry {
	have := make(map[string]domain.Entry, len(current))
	for _, e := range current {
		have[e.Key] = e
	}
	var out []domain.Entry
	for _, e := range update {
		old, ok := have[e.Key]
		switch {
		case e.Removed && !ok:
			continue
		case !e.Removed && ok && old.Equal(e):
			continue
		}
		out = append(out, e)
	}
	return out
}
