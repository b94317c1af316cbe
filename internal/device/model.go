// Package device holds the device model (Device -> Component -> DataItem) with
// its lookup indices, and the data-driven type registry used for validation.
package device

import (
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// Model is the set of devices known to the agent. Lookups are O(1) through
// indices built by AddDevice. The model is read-mostly; AddDevice takes the
// write lock so a reconfiguration can add devices while readers are active.
type Model struct {
	registry *Registry

	mu      sync.RWMutex
	devices []*domain.Device
	byKey   map[string]*domain.Device // uuid, name and id
	nodes   map[string]struct{}       // every device, component and data item id
	items   map[string]*domain.DataItem
	// keys maps device uuid -> item id/name/source -> item.
	keys map[string]map[string]*domain.DataItem
}

// NewModel creates an empty model validated against registry. A nil registry
// selects DefaultRegistry.
func NewModel(registry *Registry) *Model {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Model{
		registry: registry,
		byKey:    make(map[string]*domain.Device),
		nodes:    make(map[string]struct{}),
		items:    make(map[string]*domain.DataItem),
		keys:     make(map[string]map[string]*domain.DataItem),
	}
}

// NewModelFromDevices builds a model and adds every device in order.
func NewModelFromDevices(registry *Registry, devices ...*domain.Device) (*Model, error) {
	m := NewModel(registry)
	for _, d := range devices {
		if err := m.AddDevice(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the type registry the model validates against.
func (m *Model) Registry() *Registry { return m.registry }

// AddDevice validates the device tree and indexes it. It fails with a
// DuplicateId error if any node id, the uuid or the name collides with a node
// already in the model or elsewhere in the same tree; nothing is indexed on failure.
// A missing uuid is derived from the device name so it is stable across restarts.
func (m *Model) AddDevice(d *domain.Device) error {
	if d == nil {
		return domain.NewError(domain.KindInvalidRequest, "device is nil")
	}
	if d.ID == "" {
		return domain.NewError(domain.KindInvalidRequest, "device has no id")
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.UUID == "" {
		d.UUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.Name)).String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range []string{d.UUID, d.Name} {
		if _, dup := m.byKey[key]; dup {
			return domain.NewError(domain.KindDuplicateID, "device %q collides with an existing device", key)
		}
	}

	seen := make(map[string]struct{})
	claim := func(id string) error {
		if id == "" {
			return domain.NewError(domain.KindInvalidRequest, "device %s: node without id", d.Name)
		}
		if _, dup := m.nodes[id]; dup {
			return domain.NewError(domain.KindDuplicateID, "duplicate id %q", id)
		}
		if _, dup := seen[id]; dup {
			return domain.NewError(domain.KindDuplicateID, "duplicate id %q", id)
		}
		seen[id] = struct{}{}
		return nil
	}

	keys := make(map[string]*domain.DataItem)
	var items []*domain.DataItem
	var walkErr error
	d.Walk(func(c *domain.Component) bool {
		if walkErr = claim(c.ID); walkErr != nil {
			return false
		}
		for _, item := range c.DataItems {
			if walkErr = claim(item.ID); walkErr != nil {
				return false
			}
			if walkErr = m.normalize(item); walkErr != nil {
				return false
			}
			item.DeviceUUID = d.UUID
			item.ComponentID = c.ID
			items = append(items, item)
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}

	// Ids win over names, names over sources, when keys overlap.
	for _, item := range items {
		if item.Source != "" {
			keys[item.Source] = item
		}
	}
	for _, item := range items {
		if item.Name != "" {
			keys[item.Name] = item
		}
	}
	for _, item := range items {
		keys[item.ID] = item
	}

	for id := range seen {
		m.nodes[id] = struct{}{}
	}
	for _, item := range items {
		m.items[item.ID] = item
	}
	m.keys[d.UUID] = keys
	m.byKey[d.UUID] = d
	m.byKey[d.Name] = d
	if _, taken := m.byKey[d.ID]; !taken {
		m.byKey[d.ID] = d
	}
	m.devices = append(m.devices, d)
	return nil
}

func (m *Model) normalize(item *domain.DataItem) error {
	cat, ok := domain.ParseCategory(string(item.Category))
	if !ok {
		return domain.NewError(domain.KindInvalidType, "data item %q: unknown category %q", item.ID, item.Category)
	}
	item.Category = cat
	item.Type = strings.ToUpper(item.Type)
	if item.Representation == "" {
		item.Representation = domain.RepresentationValue
	}
	if err := m.registry.CheckItem(item); err != nil {
		return err
	}
	if item.Units == "" && cat == domain.CategorySample {
		item.Units = m.registry.DefaultUnits(item)
	}
	return nil
}

// Devices returns the devices in insertion order.
func (m *Model) Devices() []*domain.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.Device(nil), m.devices...)
}

// Device resolves a device by uuid, name or id.
func (m *Model) Device(key string) (*domain.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byKey[key]
	return d, ok
}

// DefaultDevice returns the first device, which adapters use when no device is configured.
func (m *Model) DefaultDevice() (*domain.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.devices) == 0 {
		return nil, false
	}
	return m.devices[0], true
}

// Resolve finds a data item by its model-unique id.
func (m *Model) Resolve(id string) (*domain.DataItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	return item, ok
}

// ResolveByName finds a data item of the device by id, name or source.
func (m *Model) ResolveByName(d *domain.Device, key string) (*domain.DataItem, bool) {
	if d == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.keys[d.UUID][key]
	return item, ok
}

// AllDataItems yields every data item of every device. The sequence is lazy,
// finite and can be ranged over repeatedly.
func (m *Model) AllDataItems() iter.Seq[*domain.DataItem] {
	return func(yield func(*domain.DataItem) bool) {
		for _, d := range m.Devices() {
			for item := range DataItems(d) {
				if !yield(item) {
					return
				}
			}
		}
	}
}

// DataItems yields the data items of one device tree, parents before children.
func DataItems(d *domain.Device) iter.Seq[*domain.DataItem] {
	return func(yield func(*domain.DataItem) bool) {
		d.Walk(func(c *domain.Component) bool {
			for _, item := range c.DataItems {
				if !yield(item) {
					return false
				}
			}
			return true
		})
	}
}

// FindByType returns the first data item of the device with the given type.
func FindByType(d *domain.Device, typ string) (*domain.DataItem, bool) {
	for item := range DataItems(d) {
		if item.Type == typ {
			return item, true
		}
	}
	return nil, false
}
