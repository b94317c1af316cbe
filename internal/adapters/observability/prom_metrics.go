package observability

import (
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

var _ ports.Observability = (*PromObs)(nil)

// PromObs logs through zap and records metrics in the default Prometheus
// registry. Unknown metric names are ignored.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

type Option func(*PromObs)

// WithLogger sets the zap logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *PromObs) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPromObs(opts ...Option) *PromObs {
	p := &PromObs{
		log:      zap.NewNop(),
		counters: map[string]prometheus.Counter{},
		gauges:   map[string]prometheus.Gauge{},
		histos:   map[string]prometheus.Observer{},
	}
	for _, opt := range opts {
		opt(p)
	}

	var collectors []prometheus.Collector
	counter := func(name, help string) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		p.counters[name] = c
		collectors = append(collectors, c)
	}
	gauge := func(name, help string) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		p.gauges[name] = g
		collectors = append(collectors, g)
	}
	histogram := func(name, help string, buckets []float64) {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
		p.histos[name] = h
		collectors = append(collectors, h)
	}

	counter(ports.MetricObservationsAppended, "Observations appended to the buffer.")
	counter(ports.MetricDuplicatesSuppressed, "Observations dropped because the value did not change.")
	counter(ports.MetricLinesDropped, "SHDR lines rejected by the parser.")
	counter(ports.MetricUnknownKeys, "SHDR keys that matched no data item.")
	counter(ports.MetricInvalidValues, "Values that failed validation and were stored as UNAVAILABLE.")
	counter(ports.MetricAssetsChanged, "Asset additions and removals.")
	counter(ports.MetricArchived, "Observations written to archive sinks.")
	counter(ports.MetricArchiveGap, "Observations evicted before the archive pump read them.")
	counter(ports.MetricDLQ, "Observations sent to the DLQ due to archive failures.")
	counter(ports.MetricQueueDropped, "Observations lost due to queue backpressure policies.")
	counter(ports.MetricRequests, "Query requests handled.")
	counter(ports.MetricRequestErrors, "Query requests that returned an error.")

	gauge(ports.GaugeFirstSequence, "Oldest sequence held in the buffer.")
	gauge(ports.GaugeLastSequence, "Newest sequence held in the buffer.")
	gauge(ports.GaugeAssetCount, "Assets currently held, excluding removed ones.")
	gauge(ports.GaugeWALSize, "Size of WAL on disk.")
	gauge(ports.GaugeQueueLength, "Current number of observations buffered in the archive queue.")
	gauge(ports.GaugeAdaptersUp, "Adapters with a live connection.")
	gauge(ports.GaugeStreamingClients, "Open sample streams.")

	histogram(ports.LatencySink, "Latency from dequeued batch to sink commit.", prometheus.ExponentialBuckets(0.001, 2, 12))
	histogram(ports.LatencyRequest, "Query handling latency.", prometheus.ExponentialBuckets(0.0001, 2, 14))

	prometheus.MustRegister(collectors...)
	return p
}

// Logger exposes the backing zap logger, e.g. for HTTP access logs.
func (p *PromObs) Logger() *zap.Logger { return p.log }

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, zapFields(nil, fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(nil, fields)...)
}

func (p *PromObs) LogWarn(msg string, err error, fields ...ports.Field) {
	p.log.Warn(msg, zapFields(err, fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, zapFields(err, fields)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(err, fields), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, obs *domain.Observation, err error) {
	p.IncCounter(ports.MetricDLQ, 1)
	fields := []ports.Field{ports.F("wal_id", uint64(id))}
	if obs != nil {
		fields = append(fields, ports.F("data_item", obs.DataItemID), ports.F("sequence", obs.Sequence))
	}
	p.LogWarn("archive_dlq", err, fields...)
}

func zapFields(err error, fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
