package aegisagent

import (
	"context"
	"testing"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg := testConfig(t)

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	col := &stubCollector{}
	lines := NewLineCollector("lines", LineCollectorConfig{})
	sink := &stubSink{}
	q := &stubQueue{}

	rt, err := flow.
		StreamIN(
			StreamInCollector(col),
			StreamInLines(lines),
			StreamInTransformer(&stubTransformer{}),
			StreamInObservability(&stubObservability{}),
		).
		StreamOUT(
			StreamOutSink(sink),
			StreamOutQueue(q),
			StreamOutWAL(&stubWAL{}),
			StreamOutObservability(&stubObservability{}),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if len(rt.collectors) != 2 || rt.collectors[0] != col {
		t.Fatalf("expected custom collectors to be wired, got %d", len(rt.collectors))
	}
	if lines.engine == nil {
		t.Fatalf("expected the line collector to be bound to the device model")
	}
	if len(rt.sinks) != 1 || rt.sinks[0] != sink || rt.queue != q {
		t.Fatalf("expected custom sink and queue to be wired")
	}
}

func TestFlowRunUsesStreamOutOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Disabled = true

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithObservability(&stubObservability{})))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Stop immediately; Run must still start and stop every component cleanly.
	cancel()
	if err := flow.StreamIN(
		StreamInCollector(&stubCollector{}),
	).Run(ctx,
		StreamOutCallback("noop", func([]*Observation) error { return nil }),
		StreamOutWAL(&stubWAL{}),
	); err != nil && err != context.Canceled {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}

func TestNilFlow(t *testing.T) {
	var f *Flow
	if f.StreamIN() != nil || f.Options() != nil || f.Config() != nil {
		t.Fatalf("nil flow should stay nil")
	}
	if _, err := f.StreamOUT(); err == nil {
		t.Fatalf("expected error from nil flow")
	}
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestStreamOptionsExtendConfig(t *testing.T) {
	cfg := testConfig(t)
	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	extra := &Device{Component: Component{ID: "lathe", DataItems: []*DataItem{{ID: "lathe_exec", Category: "EVENT", Type: "EXECUTION"}}}}
	flow.StreamIN(
		StreamInDevices(extra, nil),
		StreamInAdapter(AdapterConfig{Name: "lathe-adapter", Host: "127.0.0.1", Port: 7879, Device: "lathe"}),
	)
	apply(flow, []StreamOutOption{
		StreamOutTimescale("postgres://localhost/agent", "history"),
		StreamOutMQTT(MQTTConfig{Broker: "tcp://localhost:1883", TopicPrefix: "plant"}),
	})

	if len(cfg.Devices) != 2 || cfg.Devices[1] != extra {
		t.Fatalf("expected the extra device to be appended, got %d devices", len(cfg.Devices))
	}
	if len(cfg.Adapters) != 1 || cfg.Adapters[0].Device != "lathe" {
		t.Fatalf("expected the lathe adapter, got %+v", cfg.Adapters)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Timescale.Table != "history" || cfg.Archive.MQTT.TopicPrefix != "plant" {
		t.Fatalf("expected the archive sinks to be configured, got %+v", cfg.Archive)
	}
}
