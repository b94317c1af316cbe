// Package buffer holds the agent's two sequenced histories.
//
// ObservationBuffer is a fixed-capacity ring of observations numbered by a
// single gapless sequence. Alongside the ring it maintains the current state of
// every data item (latest value, merged data sets, active conditions) and a set
// of checkpoints so the state as of any buffered sequence can be rebuilt.
// Readers wait for new data through Subscribe.
//
// AssetBuffer is a ring of asset versions with its own counter and an index of
// the newest version per asset id.
//
// Both buffers are safe for concurrent use. Observations and assets handed out
// by readers are shared and must be treated as read-only.
package buffer
