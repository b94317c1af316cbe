// Package request answers probe, current, sample and asset queries against the
// agent's model and buffers, including long-poll sample streams.
package request

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ghalamif/AegisAgent/internal/buffer"
	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Observations is the read side of the observation buffer.
type Observations interface {
	Scan(from uint64, max int, filter buffer.Filter) (buffer.Window, error)
	Snapshot(filter buffer.Filter) buffer.Snapshot
	StateAt(at uint64, filter buffer.Filter) (buffer.Snapshot, error)
	Subscribe(filter buffer.Filter) *buffer.Subscription
	Stats() buffer.Stats
}

// Assets is the read side of the asset buffer.
type Assets interface {
	Get(assetID string) (*domain.Asset, bool)
	Query(q buffer.AssetQuery) []*domain.Asset
	Stats() buffer.AssetStats
}

// Config bounds what clients may ask for.
type Config struct {
	Sender            string
	DefaultCount      int
	MaxCount          int
	DefaultAssetCount int
	DefaultHeartbeat  time.Duration
	MinInterval       time.Duration
	// Instance returns the current instance id.
	Instance func() uint64
}

func (c *Config) applyDefaults() {
	if c.DefaultCount <= 0 {
		c.DefaultCount = 100
	}
	if c.MaxCount <= 0 {
		c.MaxCount = 10000
	}
	if c.DefaultCount > c.MaxCount {
		c.DefaultCount = c.MaxCount
	}
	if c.DefaultAssetCount <= 0 {
		c.DefaultAssetCount = 100
	}
	if c.DefaultHeartbeat <= 0 {
		c.DefaultHeartbeat = 10 * time.Second
	}
	if c.Instance == nil {
		c.Instance = func() uint64 { return 0 }
	}
}

// Processor is stateless between calls; every request runs against a
// consistent read of the buffers.
type Processor struct {
	cfg    Config
	model  *device.Model
	store  Observations
	assets Assets
	obs    ports.Observability
	now    func() time.Time
}

func NewProcessor(model *device.Model, store Observations, assets Assets, cfg Config, obs ports.Observability) *Processor {
	cfg.applyDefaults()
	if obs == nil {
		obs = ports.Discard
	}
	return &Processor{cfg: cfg, model: model, store: store, assets: assets, obs: obs, now: time.Now}
}

// Header is the bookkeeping every response carries.
type Header struct {
	InstanceID      uint64    `json:"instanceId"`
	CreationTime    time.Time `json:"creationTime"`
	Sender          string    `json:"sender,omitempty"`
	BufferSize      int       `json:"bufferSize"`
	FirstSequence   uint64    `json:"firstSequence"`
	LastSequence    uint64    `json:"lastSequence"`
	NextSequence    uint64    `json:"nextSequence"`
	AssetBufferSize int       `json:"assetBufferSize"`
	AssetCount      int       `json:"assetCount"`
}

func (p *Processor) header(first, last, next uint64) Header {
	st := p.store.Stats()
	as := p.assets.Stats()
	return Header{
		InstanceID:      p.cfg.Instance(),
		CreationTime:    p.now().UTC(),
		Sender:          p.cfg.Sender,
		BufferSize:      st.Capacity,
		FirstSequence:   first,
		LastSequence:    last,
		NextSequence:    next,
		AssetBufferSize: as.Capacity,
		AssetCount:      as.Active,
	}
}

func (p *Processor) liveHeader() Header {
	st := p.store.Stats()
	return p.header(st.FirstSequence, st.LastSequence, st.NextSequence)
}

// guard converts a panic inside a request into an InternalError.
func (p *Processor) guard(op string, err *error) {
	if r := recover(); r != nil {
		p.obs.LogCritical("request_panic", fmt.Errorf("%v", r),
			ports.F("op", op), ports.F("stack", string(debug.Stack())))
		*err = domain.NewError(domain.KindInternal, "internal error while handling %s", op)
	}
}

func (p *Processor) observe(op string, start time.Time, err error) {
	p.obs.IncCounter(ports.MetricRequests, 1)
	p.obs.ObserveLatency(ports.LatencyRequest, time.Since(start).Seconds())
	if err != nil {
		p.obs.IncCounter(ports.MetricRequestErrors, 1)
		p.obs.LogDebug("request_failed", ports.F("op", op), ports.F("error", err.Error()))
	}
}

// scope resolves the device and data item restrictions of a request. The
// returned items are in model order.
func (p *Processor) scope(deviceKey string, ids []string) (buffer.Filter, []*domain.DataItem, error) {
	var items []*domain.DataItem
	if deviceKey != "" {
		d, ok := p.model.Device(deviceKey)
		if !ok {
			return nil, nil, domain.NewError(domain.KindNoDevice, "could not find the device %q", deviceKey)
		}
		for item := range device.DataItems(d) {
			items = append(items, item)
		}
	} else {
		for item := range p.model.AllDataItems() {
			items = append(items, item)
		}
	}

	if len(ids) > 0 {
		want := buffer.NewFilter(ids...)
		for _, id := range ids {
			item, ok := p.model.Resolve(id)
			if !ok || (deviceKey != "" && !containsItem(items, item)) {
				return nil, nil, domain.NewError(domain.KindInvalidRequest, "unknown data item %q", id)
			}
		}
		kept := items[:0]
		for _, item := range items {
			if want.Match(item.ID) {
				kept = append(kept, item)
			}
		}
		return want, kept, nil
	}

	if deviceKey == "" {
		return nil, items, nil
	}
	f := make(buffer.Filter, len(items))
	for _, item := range items {
		f[item.ID] = struct{}{}
	}
	return f, items, nil
}

func containsItem(items []*domain.DataItem, item *domain.DataItem) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}

func (p *Processor) count(requested int) (int, error) {
	switch {
	case requested == 0:
		return p.cfg.DefaultCount, nil
	case requested < 0:
		return 0, domain.NewError(domain.KindInvalidRequest, "'count' must be positive, got %d", requested)
	case requested > p.cfg.MaxCount:
		return 0, domain.NewError(domain.KindTooMany, "'count' must be at most %d, got %d", p.cfg.MaxCount, requested)
	}
	return requested, nil
}
