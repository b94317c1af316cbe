package buffer

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// AssetQuery selects assets from the buffer. Zero values match everything;
// Max <= 0 means unbounded.
type AssetQuery struct {
	Type           string
	DeviceUUID     string
	IncludeRemoved bool
	Max            int
}

// AssetStats describes the asset ring.
type AssetStats struct {
	Capacity     int
	Versions     int
	Assets       int
	Active       int
	NextSequence uint64
}

// AssetBuffer keeps asset versions in a ring. Every upsert and tombstone takes
// a new slot from the buffer's own sequence counter; byID points at the newest
// version of each asset still in the ring.
type AssetBuffer struct {
	mu       sync.RWMutex
	capacity uint64
	slots    []*domain.Asset
	first    uint64
	next     uint64
	byID     map[string]uint64
}

// NewAssetBuffer creates an asset buffer holding capacity versions.
func NewAssetBuffer(capacity int) *AssetBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &AssetBuffer{
		capacity: uint64(capacity),
		slots:    make([]*domain.Asset, capacity),
		first:    1,
		next:     1,
		byID:     make(map[string]uint64),
	}
}

// Upsert stores a new version of the asset and returns its asset sequence.
func (b *AssetBuffer) Upsert(asset *domain.Asset) (uint64, error) {
	if asset == nil || asset.AssetID == "" {
		return 0, domain.NewError(domain.KindInvalidRequest, "asset has no id")
	}
	a := *asset
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(&a), nil
}

func (b *AssetBuffer) insertLocked(a *domain.Asset) uint64 {
	seq := b.next
	a.Sequence = seq
	idx := seq % b.capacity
	if old := b.slots[idx]; old != nil && b.byID[old.AssetID] == old.Sequence {
		delete(b.byID, old.AssetID)
	}
	b.slots[idx] = a
	b.byID[a.AssetID] = seq
	b.next++
	if b.next-b.first > b.capacity {
		b.first = b.next - b.capacity
	}
	return seq
}

// Get returns the newest version of an asset, removed or not.
func (b *AssetBuffer) Get(assetID string) (*domain.Asset, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latestLocked(assetID)
}

func (b *AssetBuffer) latestLocked(assetID string) (*domain.Asset, bool) {
	seq, ok := b.byID[assetID]
	if !ok {
		return nil, false
	}
	return b.slots[seq%b.capacity], true
}

// MarkRemoved appends a tombstone version of the asset and reports whether it
// did. An asset that is already removed keeps its tombstone and reports false.
// Unknown ids fail with AssetNotFound.
func (b *AssetBuffer) MarkRemoved(assetID string, ts time.Time) (*domain.Asset, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	latest, ok := b.latestLocked(assetID)
	if !ok {
		return nil, false, domain.NewError(domain.KindAssetNotFound, "cannot find asset %q", assetID)
	}
	if latest.Removed {
		return latest, false, nil
	}
	tomb := *latest
	tomb.Removed = true
	tomb.Timestamp = ts
	b.insertLocked(&tomb)
	return &tomb, true, nil
}

// RemoveAll tombstones every live asset of the type, optionally restricted to
// one device. An empty type matches all assets.
func (b *AssetBuffer) RemoveAll(assetType, deviceUUID string, ts time.Time) []*domain.Asset {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.queryLocked(AssetQuery{Type: assetType, DeviceUUID: deviceUUID})
	slices.Reverse(live)
	removed := make([]*domain.Asset, 0, len(live))
	for _, a := range live {
		tomb := *a
		tomb.Removed = true
		tomb.Timestamp = ts
		b.insertLocked(&tomb)
		removed = append(removed, &tomb)
	}
	return removed
}

// Query returns the newest version of each matching asset, most recently
// updated first.
func (b *AssetBuffer) Query(q AssetQuery) []*domain.Asset {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryLocked(q)
}

func (b *AssetBuffer) queryLocked(q AssetQuery) []*domain.Asset {
	out := make([]*domain.Asset, 0, len(b.byID))
	for _, seq := range b.byID {
		a := b.slots[seq%b.capacity]
		if a.Removed && !q.IncludeRemoved {
			continue
		}
		if q.Type != "" && a.Type != q.Type {
			continue
		}
		if q.DeviceUUID != "" && a.DeviceUUID != q.DeviceUUID {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y *domain.Asset) int { return cmp.Compare(y.Sequence, x.Sequence) })
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out
}

// Stats reports ring occupancy and asset counts.
func (b *AssetBuffer) Stats() AssetStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	active := 0
	for _, seq := range b.byID {
		if !b.slots[seq%b.capacity].Removed {
			active++
		}
	}
	return AssetStats{
		Capacity:     int(b.capacity),
		Versions:     int(b.next - b.first),
		Assets:       len(b.byID),
		Active:       active,
		NextSequence: b.next,
	}
}
