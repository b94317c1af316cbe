package aegisagent

import (
	"go.uber.org/zap"

	base "github.com/ghalamif/AegisAgent/pkg/aegisagent"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
	ErrCollectorStopped  = base.ErrCollectorStopped
)

// Type aliases so consumers can import github.com/ghalamif/AegisAgent directly.
type (
	Config               = base.Config
	AgentConfig          = base.AgentConfig
	AdapterConfig        = base.AdapterConfig
	HTTPConfig           = base.HTTPConfig
	Policy               = base.Policy
	OPCUAConfig          = base.OPCUAConfig
	OPCUANodeConfig      = base.OPCUANodeConfig
	TimescaleConfig      = base.TimescaleConfig
	MQTTConfig           = base.MQTTConfig
	MetricsConfig        = base.MetricsConfig
	StateConfig          = base.StateConfig
	ArchiveConfig        = base.ArchiveConfig
	WALConfig            = base.WALConfig
	Flow                 = base.Flow
	FlowOption           = base.FlowOption
	StreamInOption       = base.StreamInOption
	StreamOutOption      = base.StreamOutOption
	Runtime              = base.Runtime
	RuntimeOption        = base.RuntimeOption
	Observation          = base.Observation
	Device               = base.Device
	DataItem             = base.DataItem
	ObservationBatchSink = base.ObservationBatchSink
	Collector            = base.Collector
	Sink                 = base.Sink
	Transformer          = base.Transformer
	ObservationQueue     = base.ObservationQueue
	WAL                  = base.WAL
	Observability        = base.Observability
	StateStore           = base.StateStore
	QueuedObservation    = base.QueuedObservation
	WALEntryID           = base.WALEntryID
	WALStats             = base.WALStats
	LineCollector        = base.LineCollector
	LineCollectorConfig  = base.LineCollectorConfig
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInDevices(devices ...*Device) StreamInOption {
	return base.StreamInDevices(devices...)
}

func StreamInAdapter(ac AdapterConfig) StreamInOption {
	return base.StreamInAdapter(ac)
}

func StreamInOPCUA(oc OPCUAConfig) StreamInOption {
	return base.StreamInOPCUA(oc)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInLines(lc *LineCollector) StreamInOption {
	return base.StreamInLines(lc)
}

func StreamInTransformer(tr Transformer) StreamInOption {
	return base.StreamInTransformer(tr)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutTimescale(connString, table string) StreamOutOption {
	return base.StreamOutTimescale(connString, table)
}

func StreamOutMQTT(mc MQTTConfig) StreamOutOption {
	return base.StreamOutMQTT(mc)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutQueue(q ObservationQueue) StreamOutOption {
	return base.StreamOutQueue(q)
}

func StreamOutWAL(w WAL) StreamOutOption {
	return base.StreamOutWAL(w)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn ObservationBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithTransformer(tr Transformer) RuntimeOption {
	return base.WithTransformer(tr)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithObservationQueue(q ObservationQueue) RuntimeOption {
	return base.WithObservationQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *zap.Logger) RuntimeOption {
	return base.WithLogger(l)
}

func WithStateStore(s StateStore) RuntimeOption {
	return base.WithStateStore(s)
}

// Sink adapters.
func NewCallbackSink(name string, fn ObservationBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []*Observation, func()) {
	return base.NewChannelSink(name, buffer)
}

func NewFilteredSink(inner Sink, dataItemIDs ...string) Sink {
	return base.NewFilteredSink(inner, dataItemIDs...)
}

// In-process SHDR lines.
func NewLineCollector(name string, cfg LineCollectorConfig) *LineCollector {
	return base.NewLineCollector(name, cfg)
}
