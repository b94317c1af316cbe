// Package agent is the composition root of the observation agent: it owns the
// buffers, linearizes ingestion from every adapter into one sequence and
// answers queries through the request processor.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisAgent/internal/buffer"
	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
	"github.com/ghalamif/AegisAgent/internal/request"
)

// Config is the agent policy.
type Config struct {
	Sender                string
	BufferSize            int
	AssetBufferSize       int
	CheckpointFrequency   int
	DefaultSampleCount    int
	MaxSampleCount        int
	DefaultHeartbeat      time.Duration
	MinInterval           time.Duration
	FilterDuplicates      bool
	InitializeUnavailable bool
	ConvertUnits          bool
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 131072
	}
	if c.AssetBufferSize <= 0 {
		c.AssetBufferSize = 1024
	}
	if c.CheckpointFrequency <= 0 {
		c.CheckpointFrequency = buffer.DefaultCheckpointFrequency
	}
	if c.DefaultSampleCount <= 0 {
		c.DefaultSampleCount = 100
	}
	if c.MaxSampleCount <= 0 {
		c.MaxSampleCount = c.BufferSize
	}
	if c.DefaultHeartbeat <= 0 {
		c.DefaultHeartbeat = 10 * time.Second
	}
}

// Agent holds the device model, the observation and asset buffers and the
// request processor. All methods are safe for concurrent use.
type Agent struct {
	cfg         Config
	model       *device.Model
	store       *buffer.ObservationBuffer
	assets      *buffer.AssetBuffer
	proc        *request.Processor
	transformer ports.Transformer
	obs         ports.Observability
	now         func() time.Time

	instance atomic.Uint64
	streams  atomic.Int64
	restore  *domain.AgentState

	adaptersMu sync.Mutex
	adaptersUp map[string]struct{}
}

// Option customizes an Agent.
type Option func(*Agent)

// WithObservability injects logging and metrics.
func WithObservability(o ports.Observability) Option {
	return func(a *Agent) {
		if o != nil {
			a.obs = o
		}
	}
}

// WithTransformer sets the transformer applied to adapter values when unit
// conversion is enabled.
func WithTransformer(t ports.Transformer) Option {
	return func(a *Agent) { a.transformer = t }
}

// WithClock replaces the clock used for missing timestamps and the instance id.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithState continues a previous run: the instance id and sequence numbering
// are restored before anything is appended.
func WithState(state domain.AgentState) Option {
	return func(a *Agent) { a.restore = &state }
}

// New builds the agent. With InitializeUnavailable every data item starts
// with an UNAVAILABLE observation.
func New(model *device.Model, cfg Config, opts ...Option) (*Agent, error) {
	if model == nil {
		return nil, domain.NewError(domain.KindInvalidRequest, "agent needs a device model")
	}
	cfg.applyDefaults()
	a := &Agent{cfg: cfg, model: model, obs: ports.Discard, now: time.Now, adaptersUp: map[string]struct{}{}}
	for _, opt := range opts {
		opt(a)
	}

	a.store = buffer.NewObservationBuffer(cfg.BufferSize, buffer.WithCheckpointFrequency(cfg.CheckpointFrequency))
	a.assets = buffer.NewAssetBuffer(cfg.AssetBufferSize)
	a.instance.Store(uint64(a.now().Unix()))
	if a.restore != nil {
		if err := a.Restore(*a.restore); err != nil {
			return nil, err
		}
	}

	a.proc = request.NewProcessor(model, a.store, a.assets, request.Config{
		Sender:           cfg.Sender,
		DefaultCount:     cfg.DefaultSampleCount,
		MaxCount:         cfg.MaxSampleCount,
		DefaultHeartbeat: cfg.DefaultHeartbeat,
		MinInterval:      cfg.MinInterval,
		Instance:         a.InstanceID,
	}, a.obs)

	if cfg.InitializeUnavailable {
		ts := a.now()
		for item := range model.AllDataItems() {
			a.store.Append(domain.NewUnavailable(item, ts))
		}
	}
	a.publishStats()
	a.obs.LogInfo("agent_started",
		ports.F("instance_id", a.InstanceID()),
		ports.F("devices", len(model.Devices())),
		ports.F("buffer_size", cfg.BufferSize),
		ports.F("next_sequence", a.store.Stats().NextSequence))
	return a, nil
}

func (a *Agent) Model() *device.Model               { return a.model }
func (a *Agent) Buffer() *buffer.ObservationBuffer  { return a.store }
func (a *Agent) AssetBuffer() *buffer.AssetBuffer   { return a.assets }
func (a *Agent) Processor() *request.Processor      { return a.proc }
func (a *Agent) InstanceID() uint64                 { return a.instance.Load() }
func (a *Agent) Observability() ports.Observability { return a.obs }

// State returns what must be persisted to continue this run later.
func (a *Agent) State() domain.AgentState {
	return domain.AgentState{
		InstanceID:   a.InstanceID(),
		NextSequence: a.store.Stats().NextSequence,
		SavedAt:      a.now().UTC(),
	}
}

// Restore continues numbering from a persisted state. It fails once the buffer
// holds observations.
func (a *Agent) Restore(state domain.AgentState) error {
	if state.NextSequence > 0 {
		if err := a.store.SetNextSequence(state.NextSequence); err != nil {
			return domain.Wrap(err, "agent", "Restore", "set next sequence")
		}
	}
	if state.InstanceID > 0 {
		a.instance.Store(state.InstanceID)
	}
	return nil
}

// AddObservation records a value for a data item of a device. value may be a
// string, a domain.Condition, a []domain.Entry for data sets and tables, or a
// []float64 for time series; anything else is formatted with fmt. A zero
// timestamp means now. It returns the assigned sequence, or 0 when the value
// repeated the current one and was suppressed.
func (a *Agent) AddObservation(deviceKey, dataItemKey string, value any, ts time.Time) (uint64, error) {
	d, ok := a.model.Device(deviceKey)
	if !ok {
		return 0, domain.NewError(domain.KindNoDevice, "could not find the device %q", deviceKey)
	}
	item, ok := a.model.ResolveByName(d, dataItemKey)
	if !ok {
		return 0, domain.NewError(domain.KindInvalidRequest, "device %s has no data item %q", d.Name, dataItemKey)
	}
	if ts.IsZero() {
		ts = a.now()
	}

	obs := domain.NewObservation(item, ts)
	switch v := value.(type) {
	case domain.Condition:
		obs.Condition = &v
	case *domain.Condition:
		c := *v
		obs.Condition = &c
	case []domain.Entry:
		obs.Entries = v
	case []float64:
		obs.Samples = v
	case string:
		if item.IsCondition() {
			level, ok := domain.ParseConditionLevel(v)
			if !ok {
				return 0, domain.NewError(domain.KindInvalidRequest, "invalid condition level %q", v)
			}
			obs.Condition = &domain.Condition{Level: level}
		} else {
			obs.Value = v
		}
	default:
		obs.Value = fmt.Sprint(v)
	}
	if obs.IsCondition() && obs.Condition == nil {
		return 0, domain.NewError(domain.KindInvalidRequest, "data item %s expects a condition", item.ID)
	}

	if sanitized, err := a.model.Registry().Sanitize(item, obs); err != nil {
		a.obs.LogWarn("invalid_value", err, ports.F("data_item", item.ID))
		a.obs.IncCounter(ports.MetricInvalidValues, 1)
		obs = sanitized
	}
	seq, _ := a.ingestObservation(domain.Input{Kind: domain.InputObservation, Observation: obs, Timestamp: ts})
	a.publishStats()
	return seq, nil
}

// Ingest applies adapter inputs in order and returns how many observations
// were appended. Errors on individual inputs are logged, never returned, so
// one bad input does not stop the stream.
func (a *Agent) Ingest(inputs ...domain.Input) int {
	appended := 0
	for _, in := range inputs {
		switch in.Kind {
		case domain.InputObservation:
			if _, ok := a.ingestObservation(in); ok {
				appended++
			}
		case domain.InputAsset:
			if _, err := a.AddAsset(in.Asset); err != nil {
				id := in.AssetID
				if in.Asset != nil {
					id = in.Asset.AssetID
				}
				a.obs.LogWarn("asset_rejected", err, ports.F("asset_id", id))
			}
		case domain.InputRemoveAsset:
			if err := a.RemoveAsset(in.AssetID, in.Timestamp); err != nil {
				a.obs.LogWarn("asset_remove_failed", err, ports.F("asset_id", in.AssetID))
			}
		case domain.InputRemoveAllAssets:
			a.RemoveAllAssets(in.AssetType, in.DeviceUUID, in.Timestamp)
		}
	}
	a.publishStats()
	return appended
}

func (a *Agent) ingestObservation(in domain.Input) (uint64, bool) {
	obs := in.Observation
	if obs == nil {
		return 0, false
	}
	item, ok := a.model.Resolve(obs.DataItemID)
	if !ok {
		a.obs.LogWarn("unknown_data_item", nil, ports.F("data_item", obs.DataItemID))
		return 0, false
	}

	if a.cfg.ConvertUnits && !in.Converted && a.transformer != nil && !obs.IsUnavailable() {
		converted, err := a.transformer.Transform(item, obs)
		if err != nil {
			a.obs.LogWarn("unit_conversion_failed", err, ports.F("data_item", item.ID))
			a.obs.IncCounter(ports.MetricInvalidValues, 1)
			converted = domain.NewUnavailable(item, obs.Timestamp)
		}
		obs = converted
	}

	dedup := a.cfg.FilterDuplicates
	if in.FilterDuplicates != nil {
		dedup = *in.FilterDuplicates
	}
	var seq uint64
	if dedup {
		var appended bool
		if seq, appended = a.store.AppendIfChanged(obs); !appended {
			a.obs.IncCounter(ports.MetricDuplicatesSuppressed, 1)
			return 0, false
		}
	} else {
		seq = a.store.Append(obs)
	}
	a.obs.IncCounter(ports.MetricObservationsAppended, 1)
	return seq, true
}

// HandleEvent applies a collector event: its inputs are ingested in order and
// connection changes are logged.
func (a *Agent) HandleEvent(ev domain.AdapterEvent) {
	switch ev.Kind {
	case domain.EventConnected:
		a.obs.LogInfo("adapter_connected", ports.F("adapter", ev.Adapter))
		a.trackAdapter(ev.Adapter, true)
	case domain.EventDisconnected:
		a.obs.LogWarn("adapter_disconnected", ev.Err, ports.F("adapter", ev.Adapter),
			ports.F("invalidated", len(ev.Inputs)))
		a.trackAdapter(ev.Adapter, false)
	}
	if len(ev.Inputs) > 0 {
		a.Ingest(ev.Inputs...)
	}
}

func (a *Agent) trackAdapter(name string, up bool) {
	a.adaptersMu.Lock()
	defer a.adaptersMu.Unlock()
	if up {
		a.adaptersUp[name] = struct{}{}
	} else {
		delete(a.adaptersUp, name)
	}
	a.obs.SetGauge(ports.GaugeAdaptersUp, float64(len(a.adaptersUp)))
}

// ConnectedAdapters returns how many adapters currently have a live connection.
func (a *Agent) ConnectedAdapters() int {
	a.adaptersMu.Lock()
	defer a.adaptersMu.Unlock()
	return len(a.adaptersUp)
}

// AddAsset stores a new asset version. An asset without a device belongs to
// the default device. Devices with an ASSET_CHANGED item record the change.
func (a *Agent) AddAsset(asset *domain.Asset) (uint64, error) {
	if asset == nil {
		return 0, domain.NewError(domain.KindInvalidRequest, "asset is nil")
	}
	stored := *asset
	d, err := a.assetDevice(stored.DeviceUUID)
	if err != nil {
		return 0, err
	}
	stored.DeviceUUID = d.UUID
	if stored.Timestamp.IsZero() {
		stored.Timestamp = a.now()
	}
	seq, err := a.assets.Upsert(&stored)
	if err != nil {
		return 0, err
	}
	a.obs.IncCounter(ports.MetricAssetsChanged, 1)
	a.assetEvent(d, "ASSET_CHANGED", stored.AssetID, stored.Timestamp)
	a.publishStats()
	return seq, nil
}

// RemoveAsset tombstones an asset. Unknown ids fail with AssetNotFound;
// removing an already removed asset changes nothing.
func (a *Agent) RemoveAsset(assetID string, ts time.Time) error {
	if ts.IsZero() {
		ts = a.now()
	}
	tomb, changed, err := a.assets.MarkRemoved(assetID, ts)
	if err != nil || !changed {
		return err
	}
	if d, err := a.assetDevice(tomb.DeviceUUID); err == nil {
		a.assetEvent(d, "ASSET_REMOVED", assetID, ts)
	}
	a.obs.IncCounter(ports.MetricAssetsChanged, 1)
	a.publishStats()
	return nil
}

// RemoveAllAssets tombstones every live asset of a type (all types when
// empty), optionally restricted to one device, and returns how many.
func (a *Agent) RemoveAllAssets(assetType, deviceKey string, ts time.Time) int {
	if ts.IsZero() {
		ts = a.now()
	}
	var deviceUUID string
	if deviceKey != "" {
		if d, ok := a.model.Device(deviceKey); ok {
			deviceUUID = d.UUID
		}
	}
	removed := a.assets.RemoveAll(assetType, deviceUUID, ts)
	for _, tomb := range removed {
		if d, err := a.assetDevice(tomb.DeviceUUID); err == nil {
			a.assetEvent(d, "ASSET_REMOVED", tomb.AssetID, ts)
		}
	}
	a.obs.IncCounter(ports.MetricAssetsChanged, float64(len(removed)))
	a.publishStats()
	return len(removed)
}

func (a *Agent) assetDevice(key string) (*domain.Device, error) {
	if key == "" {
		d, ok := a.model.DefaultDevice()
		if !ok {
			return nil, domain.NewError(domain.KindNoDevice, "no device to own the asset")
		}
		return d, nil
	}
	d, ok := a.model.Device(key)
	if !ok {
		return nil, domain.NewError(domain.KindNoDevice, "could not find the device %q", key)
	}
	return d, nil
}

func (a *Agent) assetEvent(d *domain.Device, typ, assetID string, ts time.Time) {
	item, ok := device.FindByType(d, typ)
	if !ok {
		return
	}
	obs := domain.NewObservation(item, ts)
	obs.Value = assetID
	a.store.Append(obs)
	a.obs.IncCounter(ports.MetricObservationsAppended, 1)
}

func (a *Agent) publishStats() {
	st := a.store.Stats()
	a.obs.SetGauge(ports.GaugeFirstSequence, float64(st.FirstSequence))
	a.obs.SetGauge(ports.GaugeLastSequence, float64(st.LastSequence))
	a.obs.SetGauge(ports.GaugeAssetCount, float64(a.assets.Stats().Active))
}

// GetDeviceModel answers a probe.
func (a *Agent) GetDeviceModel(deviceKey string) (request.ProbeResponse, error) {
	return a.proc.Probe(request.ProbeRequest{Device: deviceKey})
}

// GetCurrent answers a current request.
func (a *Agent) GetCurrent(req request.CurrentRequest) (request.CurrentResponse, error) {
	return a.proc.Current(req)
}

// GetSample answers a single sample request.
func (a *Agent) GetSample(req request.SampleRequest) (request.SampleResponse, error) {
	return a.proc.Sample(req)
}

// StreamSample runs a streaming sample request until ctx is done.
func (a *Agent) StreamSample(ctx context.Context, req request.SampleRequest, emit func(request.SampleResponse) error) error {
	a.obs.SetGauge(ports.GaugeStreamingClients, float64(a.streams.Add(1)))
	defer func() { a.obs.SetGauge(ports.GaugeStreamingClients, float64(a.streams.Add(-1))) }()
	return a.proc.Stream(ctx, req, emit)
}

// GetAssets answers an asset request.
func (a *Agent) GetAssets(req request.AssetsRequest) (request.AssetsResponse, error) {
	return a.proc.Assets(req)
}
