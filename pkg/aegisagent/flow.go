package aegisagent

import (
	"context"
	"fmt"
)

// Flow reads as Conf → StreamIN → StreamOUT: load the agent configuration,
// choose where observations come from, choose where archived copies go.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the ingestion side: devices, adapters, in-process
// lines and the value transformer.
type StreamInOption func(*Flow)

// StreamOutOption configures the archive side: sinks, WAL and queue.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	apply(f, opts)
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw RuntimeOption values.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	apply(f, opts)
	return f
}

// StreamOUT applies archive options and builds the Runtime.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	apply(f, opts)
	return NewRuntime(f.cfg, f.opts...)
}

// Run is StreamOUT followed by Runtime.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func apply[O ~func(*Flow)](f *Flow, opts []O) {
	for _, opt := range opts {
		if fn := (func(*Flow))(opt); fn != nil {
			fn(f)
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.appendOptions(opts...) }
}

// StreamInDevices adds devices to the model before it is built.
func StreamInDevices(devices ...*Device) StreamInOption {
	return func(f *Flow) {
		for _, d := range devices {
			if d != nil {
				f.cfg.Devices = append(f.cfg.Devices, d)
			}
		}
	}
}

// StreamInAdapter adds a TCP SHDR adapter connection.
func StreamInAdapter(ac AdapterConfig) StreamInOption {
	return func(f *Flow) { f.cfg.Adapters = append(f.cfg.Adapters, ac) }
}

// StreamInOPCUA adds an OPC UA server whose nodes feed data items.
func StreamInOPCUA(oc OPCUAConfig) StreamInOption {
	return func(f *Flow) { f.cfg.OPCUA = append(f.cfg.OPCUA, oc) }
}

// StreamInCollector adds a custom collector (simulators, other protocols).
func StreamInCollector(col Collector) StreamInOption {
	return func(f *Flow) {
		if col != nil {
			f.appendOptions(WithCollector(col))
		}
	}
}

// StreamInLines adds an in-process SHDR line collector.
func StreamInLines(lc *LineCollector) StreamInOption {
	return func(f *Flow) {
		if lc != nil {
			f.appendOptions(WithCollector(lc))
		}
	}
}

// StreamInTransformer overrides the unit converter applied to adapter values.
func StreamInTransformer(tr Transformer) StreamInOption {
	return func(f *Flow) {
		if tr != nil {
			f.appendOptions(WithTransformer(tr))
		}
	}
}

func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutTimescale enables the archive with a TimescaleDB sink. An empty
// table keeps the configured one.
func StreamOutTimescale(connString, table string) StreamOutOption {
	return func(f *Flow) {
		f.cfg.Archive.Enabled = true
		f.cfg.Archive.Timescale.ConnString = connString
		if table != "" {
			f.cfg.Archive.Timescale.Table = table
		}
	}
}

// StreamOutMQTT enables the archive with an MQTT publishing sink.
func StreamOutMQTT(mc MQTTConfig) StreamOutOption {
	return func(f *Flow) {
		f.cfg.Archive.Enabled = true
		f.cfg.Archive.MQTT = mc
	}
}

// StreamOutSink injects a custom archive sink.
func StreamOutSink(s Sink) StreamOutOption {
	return func(f *Flow) {
		if s != nil {
			f.appendOptions(WithSink(s))
		}
	}
}

// StreamOutCallback installs a sink built from a callback.
func StreamOutCallback(name string, fn ObservationBatchSink) StreamOutOption {
	return func(f *Flow) { f.appendOptions(WithSink(NewCallbackSink(name, fn))) }
}

func StreamOutQueue(q ObservationQueue) StreamOutOption {
	return func(f *Flow) {
		if q != nil {
			f.appendOptions(WithObservationQueue(q))
		}
	}
}

func StreamOutWAL(w WAL) StreamOutOption {
	return func(f *Flow) {
		if w != nil {
			f.appendOptions(WithWAL(w))
		}
	}
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}
