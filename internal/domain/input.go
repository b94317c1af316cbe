package domain

import "time"

// InputKind discriminates the payload of an Input.
type InputKind int

const (
	InputObservation InputKind = iota
	InputAsset
	InputRemoveAsset
	InputRemoveAllAssets
)

func (k InputKind) String() string {
	switch k {
	case InputObservation:
		return "observation"
	case InputAsset:
		return "asset"
	case InputRemoveAsset:
		return "remove_asset"
	case InputRemoveAllAssets:
		return "remove_all_assets"
	default:
		return "unknown"
	}
}

// Input is one validated unit of adapter data, ready for the agent.
type Input struct {
	Kind        InputKind
	Observation *Observation
	Asset       *Asset
	// AssetID, AssetType and DeviceUUID qualify removals.
	AssetID    string
	AssetType  string
	DeviceUUID string
	Timestamp  time.Time
	// FilterDuplicates overrides the agent setting when non-nil.
	FilterDuplicates *bool
	// Converted marks values already in the data item's units.
	Converted bool
}

// AdapterEventKind tells the composition root what happened on a collector.
type AdapterEventKind int

const (
	EventData AdapterEventKind = iota
	EventConnected
	EventDisconnected
)

func (k AdapterEventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// AdapterEvent is what collectors send over their output channel. Connected and
// Disconnected events carry the availability inputs the connection change implies.
type AdapterEvent struct {
	Adapter string
	Kind    AdapterEventKind
	At      time.Time
	Inputs  []Input
	Err     error
}
