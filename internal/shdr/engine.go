// Package shdr turns adapter lines into validated agent inputs.
//
// A line is "[timestamp|]key|value{|key|value}". Condition items consume
// "key|level|native_code|native_severity|qualifier|message", time series items
// "key|count|rate|v1 v2 ...", and data set or table items "key|k1=v1 k2=v2".
// Lines starting with '*' are protocol commands and lines starting with '@'
// carry assets.
package shdr

import (
	"strconv"
	"strings"
	"time"

	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

const multilinePrefix = "--multiline--"

// Config describes one adapter connection.
type Config struct {
	// Adapter names the connection in logs.
	Adapter string
	// Device is the default device for unqualified keys. Empty selects the
	// model's first device.
	Device string
	// IgnoreTimestamps stamps every line with the receive time.
	IgnoreTimestamps bool
	// AutoAvailable sets AVAILABILITY to AVAILABLE on connect.
	AutoAvailable bool
	// FilterDuplicates, when set, overrides the agent-wide setting.
	FilterDuplicates *bool
}

// Engine parses the lines of one adapter connection. It keeps per-connection
// state (current device, open multiline asset, negotiated heartbeat) and is
// not safe for concurrent use.
type Engine struct {
	model    *device.Model
	registry *device.Registry
	obs      ports.Observability
	cfg      Config
	now      func() time.Time

	device  *domain.Device
	served  []*domain.Device
	pending *pendingAsset

	heartbeat          time.Duration
	version            int
	conversionRequired bool
}

type pendingAsset struct {
	id, assetType, terminator string
	ts                        time.Time
	device                    *domain.Device
	body                      []string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the receive-time clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the parser for one connection. It fails with NoDevice when
// the configured device is not in the model.
func NewEngine(model *device.Model, cfg Config, obs ports.Observability, opts ...Option) (*Engine, error) {
	if obs == nil {
		obs = ports.Discard
	}
	e := &Engine{
		model:              model,
		registry:           model.Registry(),
		obs:                obs,
		cfg:                cfg,
		now:                time.Now,
		version:            1,
		conversionRequired: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	var ok bool
	if cfg.Device != "" {
		e.device, ok = model.Device(cfg.Device)
	} else {
		e.device, ok = model.DefaultDevice()
	}
	if !ok {
		return nil, domain.NewError(domain.KindNoDevice, "adapter %s: no device %q", cfg.Adapter, cfg.Device)
	}
	e.serve(e.device)
	return e, nil
}

// Heartbeat returns the interval negotiated by "* PONG", if any.
func (e *Engine) Heartbeat() (time.Duration, bool) { return e.heartbeat, e.heartbeat > 0 }

// Version is the protocol version announced by "* shdrVersion".
func (e *Engine) Version() int { return e.version }

// ConversionRequired reports whether values arrive in native units.
func (e *Engine) ConversionRequired() bool { return e.conversionRequired }

// Devices returns the devices this connection has reported data for.
func (e *Engine) Devices() []*domain.Device { return append([]*domain.Device(nil), e.served...) }

func (e *Engine) serve(d *domain.Device) {
	for _, s := range e.served {
		if s == d {
			return
		}
	}
	e.served = append(e.served, d)
}

// ProcessLine parses one line. A malformed line yields a ProtocolParseError
// and no inputs; unknown keys and invalid values are logged and handled in
// place so the rest of the line survives.
func (e *Engine) ProcessLine(line string) ([]domain.Input, error) {
	line = strings.TrimRight(line, "\r\n")

	if e.pending != nil {
		return e.continueAsset(line), nil
	}
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, "*") {
		e.command(strings.TrimSpace(line[1:]))
		return nil, nil
	}

	fields, err := splitFields(line)
	if err != nil {
		return nil, e.dropped(line, err.Error())
	}

	ts := e.now()
	if parsed, ok := parseTimestamp(fields[0]); ok {
		if !e.cfg.IgnoreTimestamps {
			ts = parsed
		}
		fields = fields[1:]
	}
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "") {
		return nil, nil
	}

	if strings.HasPrefix(fields[0], "@") {
		return e.assetCommand(line, fields, ts)
	}
	return e.observations(line, fields, ts)
}

func (e *Engine) observations(line string, fields []string, ts time.Time) ([]domain.Input, error) {
	var inputs []domain.Input
	for i := 0; i < len(fields); {
		key := fields[i]
		item, dev, ok := e.resolve(key)
		if !ok {
			e.obs.LogWarn("shdr_unknown_key", nil,
				ports.F("adapter", e.cfg.Adapter), ports.F("key", key))
			e.obs.IncCounter(ports.MetricUnknownKeys, 1)
			i += 2
			continue
		}

		width := 2
		switch {
		case item.IsCondition():
			width = 6
		case item.Representation == domain.RepresentationTimeSeries:
			width = 4
		}
		if i+width > len(fields) {
			return nil, e.dropped(line, "incomplete value for "+key)
		}
		obs := e.build(item, fields[i+1:i+width], ts)
		e.serve(dev)
		inputs = append(inputs, e.input(obs))
		i += width
	}
	return inputs, nil
}

func (e *Engine) input(obs *domain.Observation) domain.Input {
	return domain.Input{
		Kind:             domain.InputObservation,
		Observation:      obs,
		DeviceUUID:       obs.DeviceUUID,
		Timestamp:        obs.Timestamp,
		FilterDuplicates: e.cfg.FilterDuplicates,
		Converted:        !e.conversionRequired,
	}
}

// resolve finds a key in the current device, then as "Device:key", then as a
// model-wide id.
func (e *Engine) resolve(key string) (*domain.DataItem, *domain.Device, bool) {
	if item, ok := e.model.ResolveByName(e.device, key); ok {
		return item, e.device, true
	}
	if devKey, itemKey, found := strings.Cut(key, ":"); found {
		if d, ok := e.model.Device(devKey); ok {
			if item, ok := e.model.ResolveByName(d, itemKey); ok {
				return item, d, true
			}
		}
	}
	if item, ok := e.model.Resolve(key); ok {
		if d, ok := e.model.Device(item.DeviceUUID); ok {
			return item, d, true
		}
	}
	return nil, nil, false
}

// build turns the value fields of one item into an observation, replacing
// anything the registry rejects with UNAVAILABLE.
func (e *Engine) build(item *domain.DataItem, values []string, ts time.Time) *domain.Observation {
	obs := domain.NewObservation(item, ts)
	invalid := func(reason string) *domain.Observation {
		e.obs.LogWarn("shdr_invalid_value", nil,
			ports.F("adapter", e.cfg.Adapter), ports.F("data_item", item.ID), ports.F("reason", reason))
		e.obs.IncCounter(ports.MetricInvalidValues, 1)
		return domain.NewUnavailable(item, ts)
	}

	switch {
	case item.IsCondition():
		level, ok := domain.ParseConditionLevel(values[0])
		if !ok {
			return invalid("unknown condition level " + strconv.Quote(values[0]))
		}
		obs.Condition = &domain.Condition{
			Level:          level,
			NativeCode:     values[1],
			NativeSeverity: values[2],
			Qualifier:      values[3],
			Message:        values[4],
		}
		return obs

	case item.Representation == domain.RepresentationTimeSeries:
		if isUnavailable(values[2]) {
			return domain.NewUnavailable(item, ts)
		}
		count, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil {
			return invalid("bad sample count")
		}
		if r := strings.TrimSpace(values[1]); r != "" {
			if obs.Rate, err = strconv.ParseFloat(r, 64); err != nil {
				return invalid("bad sample rate")
			}
		}
		for _, f := range strings.Fields(values[2]) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return invalid("non-numeric sample " + strconv.Quote(f))
			}
			obs.Samples = append(obs.Samples, v)
		}
		if len(obs.Samples) != count {
			return invalid("sample count mismatch")
		}
		return obs

	case item.Representation.IsKeyed():
		if isUnavailable(values[0]) {
			return domain.NewUnavailable(item, ts)
		}
		entries, err := parseEntries(values[0])
		if err != nil {
			return invalid(err.Error())
		}
		obs.Entries = entries
		return obs

	default:
		if isUnavailable(values[0]) {
			return domain.NewUnavailable(item, ts)
		}
		obs.Value = strings.TrimSpace(values[0])
		sanitized, err := e.registry.Sanitize(item, obs)
		if err != nil {
			return invalid(err.Error())
		}
		return sanitized
	}
}

func isUnavailable(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, domain.Unavailable)
}

func (e *Engine) dropped(line, reason string) error {
	err := domain.NewError(domain.KindProtocolParse, "adapter %s: %s", e.cfg.Adapter, reason)
	e.obs.LogWarn("shdr_line_dropped", err, ports.F("adapter", e.cfg.Adapter), ports.F("line", line))
	e.obs.IncCounter(ports.MetricLinesDropped, 1)
	return err
}

// command handles "* name: value" and "* PONG <ms>".
func (e *Engine) command(cmd string) {
	if rest, ok := strings.CutPrefix(cmd, "PONG"); ok {
		ms, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || ms <= 0 {
			e.obs.LogWarn("shdr_bad_pong", err, ports.F("adapter", e.cfg.Adapter), ports.F("command", cmd))
			return
		}
		e.heartbeat = time.Duration(ms) * time.Millisecond
		return
	}

	name, value, found := strings.Cut(cmd, ":")
	if !found {
		e.obs.LogDebug("shdr_unknown_command", ports.F("adapter", e.cfg.Adapter), ports.F("command", cmd))
		return
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "device":
		d, ok := e.model.Device(value)
		if !ok {
			e.obs.LogWarn("shdr_unknown_device", nil, ports.F("adapter", e.cfg.Adapter), ports.F("device", value))
			return
		}
		e.device = d
		e.serve(d)
	case "shdrversion":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			e.version = v
		}
	case "conversionrequired":
		e.conversionRequired = !strings.EqualFold(value, "no") && !strings.EqualFold(value, "false")
	default:
		e.obs.LogDebug("shdr_unknown_command", ports.F("adapter", e.cfg.Adapter), ports.F("command", cmd))
	}
}

func (e *Engine) assetCommand(line string, fields []string, ts time.Time) ([]domain.Input, error) {
	switch fields[0] {
	case "@ASSET@":
		if len(fields) < 4 || fields[1] == "" {
			return nil, e.dropped(line, "asset needs id, type and body")
		}
		body := strings.Join(fields[3:], "|")
		if strings.HasPrefix(body, multilinePrefix) {
			e.pending = &pendingAsset{id: fields[1], assetType: fields[2], terminator: body, ts: ts, device: e.device}
			return nil, nil
		}
		return []domain.Input{e.assetInput(fields[1], fields[2], body, ts, e.device)}, nil

	case "@REMOVE_ASSET@":
		if len(fields) < 2 || fields[1] == "" {
			return nil, e.dropped(line, "asset removal needs an id")
		}
		return []domain.Input{{
			Kind: domain.InputRemoveAsset, AssetID: fields[1], DeviceUUID: e.device.UUID, Timestamp: ts,
		}}, nil

	case "@REMOVE_ALL_ASSETS@":
		if len(fields) < 2 {
			return nil, e.dropped(line, "asset removal needs a type")
		}
		return []domain.Input{{
			Kind: domain.InputRemoveAllAssets, AssetType: fields[1], DeviceUUID: e.device.UUID, Timestamp: ts,
		}}, nil
	}
	return nil, e.dropped(line, "unsupported asset command "+fields[0])
}

func (e *Engine) continueAsset(line string) []domain.Input {
	p := e.pending
	if strings.TrimSpace(line) != p.terminator {
		p.body = append(p.body, line)
		return nil
	}
	e.pending = nil
	return []domain.Input{e.assetInput(p.id, p.assetType, strings.Join(p.body, "\n"), p.ts, p.device)}
}

func (e *Engine) assetInput(id, assetType, body string, ts time.Time, d *domain.Device) domain.Input {
	return domain.Input{
		Kind:       domain.InputAsset,
		DeviceUUID: d.UUID,
		Timestamp:  ts,
		Asset: &domain.Asset{
			AssetID:    id,
			Type:       assetType,
			DeviceUUID: d.UUID,
			Timestamp:  ts,
			Body:       body,
		},
	}
}

// Connected returns the inputs a new connection implies: AVAILABILITY set
// to AVAILABLE on every served device when auto-available is on.
func (e *Engine) Connected(ts time.Time) []domain.Input {
	if !e.cfg.AutoAvailable {
		return nil
	}
	var inputs []domain.Input
	for _, d := range e.served {
		item, ok := device.FindByType(d, "AVAILABILITY")
		if !ok {
			continue
		}
		obs := domain.NewObservation(item, ts)
		obs.Value = "AVAILABLE"
		inputs = append(inputs, e.input(obs))
	}
	return inputs
}

// Disconnected returns an UNAVAILABLE observation for every data item of every
// device this connection served. An open multiline asset is discarded.
func (e *Engine) Disconnected(ts time.Time) []domain.Input {
	if e.pending != nil {
		e.obs.LogWarn("shdr_unterminated_asset", nil,
			ports.F("adapter", e.cfg.Adapter), ports.F("asset_id", e.pending.id))
		e.obs.IncCounter(ports.MetricLinesDropped, 1)
		e.pending = nil
	}
	e.heartbeat = 0

	var inputs []domain.Input
	for _, d := range e.served {
		for item := range device.DataItems(d) {
			in := e.input(domain.NewUnavailable(item, ts))
			in.Converted = true
			inputs = append(inputs, in)
		}
	}
	return inputs
}
