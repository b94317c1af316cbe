package domain

import "time"

// Asset is a versioned, device-owned document such as a cutting tool or a file.
// Body is opaque to the agent core.
type Asset struct {
	AssetID    string    `json:"assetId"`
	Type       string    `json:"type"`
	DeviceUUID string    `json:"deviceUuid"`
	Timestamp  time.Time `json:"timestamp"`
	Removed    bool      `json:"removed,omitempty"`
	Body       string    `json:"body,omitempty"`
	// Sequence is the asset buffer's own counter, assigned on insertion.
	Sequence uint64 `json:"sequence"`
}
