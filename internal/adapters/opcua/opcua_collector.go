package opcua

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Name             string        `yaml:"name"`
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	AutoAvailable    bool          `yaml:"auto_available"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig binds a monitored node to a data item. Device defaults to the
// model's first device.
type NodeConfig struct {
	NodeID   string `yaml:"node_id"`
	Device   string `yaml:"device"`
	DataItem string `yaml:"data_item"`
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "opcua:" + c.Endpoint
	}
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisAgent"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for i, n := range c.Nodes {
		if n.NodeID == "" || n.DataItem == "" {
			return fmt.Errorf("node %d: node_id and data_item are required", i)
		}
	}
	return nil
}

type binding struct {
	node NodeConfig
	item *domain.DataItem
}

// Collector implements ports.Collector over one OPC UA subscription. Every
// data change of a monitored node becomes an observation of its data item.
type Collector struct {
	cfg      Config
	registry *device.Registry
	obs      ports.Observability
	now      func() time.Time
	bindings []binding
	devices  []*domain.Device

	mu        sync.Mutex
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]binding
	started   bool
}

var _ ports.Collector = (*Collector)(nil)

// NewCollector resolves every node's data item against the model.
func NewCollector(cfg Config, model *device.Model, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("opcua.NewCollector: %w", err)
	}
	if model == nil {
		return nil, errors.New("opcua.NewCollector: device model is required")
	}
	if obs == nil {
		obs = ports.Discard
	}
	c := &Collector{cfg: cfg, registry: model.Registry(), obs: obs, now: time.Now}

	seen := make(map[*domain.Device]bool)
	for _, node := range cfg.Nodes {
		var (
			d  *domain.Device
			ok bool
		)
		if node.Device != "" {
			d, ok = model.Device(node.Device)
		} else {
			d, ok = model.DefaultDevice()
		}
		if !ok {
			return nil, domain.NewError(domain.KindNoDevice, "opcua node %s: no device %q", node.NodeID, node.Device)
		}
		item, ok := model.ResolveByName(d, node.DataItem)
		if !ok {
			return nil, domain.NewError(domain.KindInvalidRequest, "opcua node %s: device %s has no data item %q",
				node.NodeID, d.Name, node.DataItem)
		}
		c.bindings = append(c.bindings, binding{node: node, item: item})
		if !seen[d] {
			seen[d] = true
			c.devices = append(c.devices, d)
		}
	}
	return c, nil
}

func (c *Collector) Name() string { return c.cfg.Name }

func (c *Collector) Start(out chan<- domain.AdapterEvent) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("opcua collector %s already started", c.cfg.Name)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.buildClientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.bindings)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]binding, len(c.bindings))
	for i, b := range c.bindings {
		nodeID, err := ua.ParseNodeID(b.node.NodeID)
		if err != nil {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", b.node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", b.node.NodeID, err)
		}
		if len(res.Results) == 0 {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: empty result", b.node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: %s", b.node.NodeID, res.Results[0].StatusCode)
		}
		handleMap[handle] = b
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.obs.LogInfo("opcua_subscribed", ports.F("adapter", c.cfg.Name), ports.F("endpoint", c.cfg.Endpoint),
		ports.F("nodes", len(handleMap)))
	c.send(ctx, out, domain.AdapterEvent{Adapter: c.cfg.Name, Kind: domain.EventConnected, At: c.now(),
		Inputs: c.connectedInputs(c.now())})

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	sub := c.sub
	client := c.client
	c.started = false
	c.cancel = nil
	c.sub = nil
	c.client = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- domain.AdapterEvent) {
	defer c.wg.Done()
	defer func() {
		ev := domain.AdapterEvent{Adapter: c.cfg.Name, Kind: domain.EventDisconnected, At: c.now(),
			Inputs: c.disconnectedInputs(c.now()), Err: ctx.Err()}
		select {
		case out <- ev:
		case <-time.After(time.Second):
			c.obs.LogWarn("adapter_event_dropped", nil, ports.F("adapter", c.cfg.Name), ports.F("kind", ev.Kind.String()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogWarn("opcua_notification_error", notif.Error, ports.F("adapter", c.cfg.Name))
				continue
			}
			if inputs := c.inputs(notif.Value); len(inputs) > 0 {
				c.send(ctx, out, domain.AdapterEvent{Adapter: c.cfg.Name, Kind: domain.EventData, At: c.now(), Inputs: inputs})
			}
		}
	}
}

func (c *Collector) send(ctx context.Context, out chan<- domain.AdapterEvent, ev domain.AdapterEvent) {
	select {
	case <-ctx.Done():
	case out <- ev:
	}
}

// inputs maps a data change notification onto observations. Values the
// registry rejects become UNAVAILABLE.
func (c *Collector) inputs(val interface{}) []domain.Input {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return nil
	}

	var inputs []domain.Input
	for _, mi := range data.MonitoredItems {
		b, ok := c.handleMap[mi.ClientHandle]
		if !ok || mi.Value == nil {
			continue
		}

		ts := mi.Value.SourceTimestamp
		if ts.IsZero() {
			ts = mi.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = c.now()
		}

		obs := domain.NewObservation(b.item, ts)
		switch {
		case mi.Value.Status != ua.StatusOK:
			obs = domain.NewUnavailable(b.item, ts)
		case b.item.IsCondition():
			text, _ := variantToString(mi.Value.Value)
			level, ok := domain.ParseConditionLevel(text)
			if !ok {
				c.obs.LogWarn("opcua_invalid_value", nil, ports.F("node_id", b.node.NodeID), ports.F("data_item", b.item.ID))
				c.obs.IncCounter(ports.MetricInvalidValues, 1)
				obs = domain.NewUnavailable(b.item, ts)
				break
			}
			obs.Condition = &domain.Condition{Level: level}
		default:
			text, ok := variantToString(mi.Value.Value)
			if !ok {
				c.obs.LogDebug("opcua_unsupported_type", ports.F("node_id", b.node.NodeID),
					ports.F("type", fmt.Sprintf("%T", variantValue(mi.Value.Value))))
				continue
			}
			obs.Value = text
			sanitized, err := c.registry.Sanitize(b.item, obs)
			if err != nil {
				c.obs.LogWarn("opcua_invalid_value", err, ports.F("node_id", b.node.NodeID), ports.F("data_item", b.item.ID))
				c.obs.IncCounter(ports.MetricInvalidValues, 1)
			}
			obs = sanitized
		}
		inputs = append(inputs, domain.Input{
			Kind:        domain.InputObservation,
			Observation: obs,
			DeviceUUID:  obs.DeviceUUID,
			Timestamp:   ts,
		})
	}
	return inputs
}

func (c *Collector) connectedInputs(ts time.Time) []domain.Input {
	if !c.cfg.AutoAvailable {
		return nil
	}
	var inputs []domain.Input
	for _, d := range c.devices {
		item, ok := device.FindByType(d, "AVAILABILITY")
		if !ok {
			continue
		}
		obs := domain.NewObservation(item, ts)
		obs.Value = "AVAILABLE"
		inputs = append(inputs, domain.Input{Kind: domain.InputObservation, Observation: obs, DeviceUUID: d.UUID, Timestamp: ts})
	}
	return inputs
}

// disconnectedInputs invalidates the monitored items, plus AVAILABILITY when
// this collector set it.
func (c *Collector) disconnectedInputs(ts time.Time) []domain.Input {
	var inputs []domain.Input
	add := func(item *domain.DataItem) {
		inputs = append(inputs, domain.Input{Kind: domain.InputObservation, Observation: domain.NewUnavailable(item, ts),
			DeviceUUID: item.DeviceUUID, Timestamp: ts, Converted: true})
	}
	for _, b := range c.bindings {
		add(b.item)
	}
	if c.cfg.AutoAvailable {
		for _, d := range c.devices {
			if item, ok := device.FindByType(d, "AVAILABILITY"); ok {
				add(item)
			}
		}
	}
	return inputs
}

func (c *Collector) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (c *Collector) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantValue(v *ua.Variant) interface{} {
	if v == nil {
		return nil
	}
	return v.Value()
}

// variantToString renders scalar variants in SHDR value form.
func variantToString(v *ua.Variant) (string, bool) {
	switch val := variantValue(v).(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case int8:
		return strconv.FormatInt(int64(val), 10), true
	case uint8:
		return strconv.FormatUint(uint64(val), 10), true
	case int16:
		return strconv.FormatInt(int64(val), 10), true
	case uint16:
		return strconv.FormatUint(uint64(val), 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case uint32:
		return strconv.FormatUint(uint64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}
