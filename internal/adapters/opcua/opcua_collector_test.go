package opcua

import (
	"errors"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
)

var ts = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func testModel(t *testing.T) *device.Model {
	t.Helper()
	press := &domain.Device{Component: domain.Component{
		ID: "press",
		DataItems: []*domain.DataItem{
			{ID: "avail", Category: domain.CategoryEvent, Type: "AVAILABILITY"},
			{ID: "temp", Category: domain.CategorySample, Type: "TEMPERATURE"},
			{ID: "exec", Category: domain.CategoryEvent, Type: "EXECUTION"},
			{ID: "hyd", Category: domain.CategoryCondition, Type: "SYSTEM"},
		},
	}}
	m, err := device.NewModelFromDevices(nil, press)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return m
}

func newTestCollector(t *testing.T, autoAvailable bool) *Collector {
	t.Helper()
	c, err := NewCollector(Config{
		Endpoint:      "opc.tcp://localhost:4840",
		AutoAvailable: autoAvailable,
		Nodes: []NodeConfig{
			{NodeID: "ns=2;s=Temp", DataItem: "temp"},
			{NodeID: "ns=2;s=Exec", DataItem: "exec"},
			{NodeID: "ns=2;s=Hyd", Device: "press", DataItem: "hyd"},
		},
	}, testModel(t), nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	c.now = func() time.Time { return ts }
	c.handleMap = map[uint32]binding{1: c.bindings[0], 2: c.bindings[1], 3: c.bindings[2]}
	return c
}

func change(handle uint32, v interface{}, status ua.StatusCode) *ua.MonitoredItemNotification {
	return &ua.MonitoredItemNotification{
		ClientHandle: handle,
		Value:        &ua.DataValue{Value: ua.MustVariant(v), Status: status, SourceTimestamp: ts},
	}
}

func TestCollectorMapsDataChanges(t *testing.T) {
	c := newTestCollector(t, false)
	inputs := c.inputs(&ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		change(1, 21.5, ua.StatusOK),
		change(2, "ACTIVE", ua.StatusOK),
		change(3, "fault", ua.StatusOK),
		change(9, 1.0, ua.StatusOK),
	}})
	if len(inputs) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(inputs))
	}
	if got := inputs[0].Observation; got.DataItemID != "temp" || got.Value != "21.5" || !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected temperature observation %+v", got)
	}
	if got := inputs[1].Observation; got.Value != "ACTIVE" {
		t.Fatalf("unexpected execution %q", got.Value)
	}
	if got := inputs[2].Observation; got.Condition == nil || got.Condition.Level != domain.LevelFault {
		t.Fatalf("expected FAULT condition, got %+v", got.Condition)
	}
	if inputs[0].DeviceUUID == "" {
		t.Fatalf("inputs must carry the device uuid")
	}
}

func TestCollectorInvalidValuesBecomeUnavailable(t *testing.T) {
	c := newTestCollector(t, false)
	inputs := c.inputs(&ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		change(2, "SPINNING", ua.StatusOK),
		change(1, 3.0, ua.StatusBadNotConnected),
		change(1, []byte{1, 2}, ua.StatusOK),
	}})
	if len(inputs) != 2 {
		t.Fatalf("unsupported variants are skipped, got %d inputs", len(inputs))
	}
	for _, in := range inputs {
		if !in.Observation.IsUnavailable() {
			t.Fatalf("expected UNAVAILABLE for %s, got %+v", in.Observation.DataItemID, in.Observation)
		}
	}
	if inputs := c.inputs("not a data change"); inputs != nil {
		t.Fatalf("expected other notifications to be ignored")
	}
}

func TestCollectorAvailability(t *testing.T) {
	c := newTestCollector(t, true)
	connected := c.connectedInputs(ts)
	if len(connected) != 1 || connected[0].Observation.DataItemID != "avail" || connected[0].Observation.Value != "AVAILABLE" {
		t.Fatalf("unexpected connect inputs %+v", connected)
	}

	disconnected := c.disconnectedInputs(ts)
	if len(disconnected) != 4 {
		t.Fatalf("expected monitored items plus availability, got %d", len(disconnected))
	}
	for _, in := range disconnected {
		if !in.Observation.IsUnavailable() || !in.Converted {
			t.Fatalf("unexpected disconnect input %+v", in)
		}
	}

	if got := newTestCollector(t, false).connectedInputs(ts); got != nil {
		t.Fatalf("availability is only set with auto_available, got %+v", got)
	}
}

func TestNewCollectorValidation(t *testing.T) {
	model := testModel(t)
	cases := []Config{
		{},
		{Endpoint: "opc.tcp://x"},
		{Endpoint: "opc.tcp://x", Nodes: []NodeConfig{{NodeID: "ns=2;s=A"}}},
	}
	for i, cfg := range cases {
		if _, err := NewCollector(cfg, model, nil); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	_, err := NewCollector(Config{Endpoint: "opc.tcp://x", Nodes: []NodeConfig{{NodeID: "a", Device: "lathe", DataItem: "temp"}}}, model, nil)
	if !errors.Is(err, domain.ErrNoDevice) {
		t.Fatalf("expected NoDevice, got %v", err)
	}
	_, err = NewCollector(Config{Endpoint: "opc.tcp://x", Nodes: []NodeConfig{{NodeID: "a", DataItem: "pressure"}}}, model, nil)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest for unknown data item, got %v", err)
	}

	c, err := NewCollector(Config{Endpoint: "opc.tcp://x", Nodes: []NodeConfig{{NodeID: "a", DataItem: "temp"}}}, model, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if c.Name() != "opcua:opc.tcp://x" || c.cfg.PublishInterval != 250*time.Millisecond || c.cfg.SecurityMode != "None" {
		t.Fatalf("defaults not applied: %+v", c.cfg)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop before start should be a no-op: %v", err)
	}
}

func TestVariantToString(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{true, "true"},
		{int32(-4), "-4"},
		{uint16(7), "7"},
		{float32(0.5), "0.5"},
		{ts, "2025-03-01T08:00:00Z"},
	}
	for _, tc := range cases {
		got, ok := variantToString(ua.MustVariant(tc.in))
		if !ok || got != tc.want {
			t.Fatalf("%T: expected %q, got %q ok=%v", tc.in, tc.want, got, ok)
		}
	}
	if _, ok := variantToString(nil); ok {
		t.Fatalf("nil variant should not convert")
	}
	if normalizeSecurityMode("sign+encrypt") != "SignAndEncrypt" || normalizeSecurityMode("x") != "None" {
		t.Fatalf("unexpected security mode normalization")
	}
}
