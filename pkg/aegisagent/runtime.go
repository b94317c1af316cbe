package aegisagent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisAgent/internal/adapters/httpapi"
	"github.com/ghalamif/AegisAgent/internal/adapters/observability"
	"github.com/ghalamif/AegisAgent/internal/adapters/opcua"
	"github.com/ghalamif/AegisAgent/internal/adapters/queue"
	"github.com/ghalamif/AegisAgent/internal/adapters/shdr"
	"github.com/ghalamif/AegisAgent/internal/adapters/sink"
	"github.com/ghalamif/AegisAgent/internal/adapters/state"
	"github.com/ghalamif/AegisAgent/internal/adapters/transform"
	"github.com/ghalamif/AegisAgent/internal/adapters/wal"
	"github.com/ghalamif/AegisAgent/internal/agent"
	"github.com/ghalamif/AegisAgent/internal/app/pipeline"
	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

const shutdownTimeout = 5 * time.Second

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collectors    []Collector
	sinks         []Sink
	transformer   Transformer
	wal           WAL
	queue         ObservationQueue
	observability Observability
	logger        *zap.Logger
	stateStore    StateStore
}

// WithCollector adds a collector next to the configured adapters. A
// LineCollector is bound to the runtime's device model.
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		if col != nil {
			o.collectors = append(o.collectors, col)
		}
	}
}

// WithSink adds an archive sink and enables the archive pipeline.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithTransformer overrides the unit converter applied before buffering.
func WithTransformer(t Transformer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transformer = t
	}
}

// WithWAL lets callers bring their own WAL implementation or reuse an existing instance.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithObservationQueue injects a custom archive queue implementation.
func WithObservationQueue(q ObservationQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger sets the zap logger used for HTTP access logs and, unless
// WithObservability is given, for the default observability backend.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithStateStore replaces the YAML state file.
func WithStateStore(s StateStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.stateStore = s
	}
}

type binder interface {
	bind(model *device.Model, obs ports.Observability) error
}

// Runtime wires adapters → agent → HTTP queries, and optionally
// buffer → WAL → queue → sinks, with lifecycle hooks for embedding the agent
// inside any Go service.
type Runtime struct {
	cfg        *Config
	log        *zap.Logger
	obs        ports.Observability
	agent      *agent.Agent
	store      ports.StateStore
	collectors []ports.Collector
	http       *httpapi.Server
	metricsSrv *observability.MetricsServer

	archiving bool
	archive   *pipeline.Archive
	wal       ports.WAL
	queue     ports.ObservationQueue
	sinks     []ports.Sink
	db        *sql.DB
	mqtt      *sink.MQTTSink
	walOwn    *wal.FileWAL

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewRuntime builds the agent from cfg: device model, persisted state, SHDR
// and OPC UA collectors, the HTTP transport, the metrics server and, when
// enabled or when sinks are supplied, the archive pipeline.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	log := overrides.logger
	obs := overrides.observability
	if obs == nil {
		if log == nil {
			var err error
			if log, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Development); err != nil {
				return nil, err
			}
		}
		obs = observability.NewPromObs(observability.WithLogger(log))
	}
	if log == nil {
		log = zap.NewNop()
	}

	model, err := cfg.Model()
	if err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, log: log, obs: obs, store: overrides.stateStore}
	if r.store == nil && !cfg.State.Disabled {
		r.store = state.NewFileStore(cfg.State.Path)
	}

	tr := overrides.transformer
	if tr == nil {
		tr = transform.NewUnitConverter(obs)
	}
	agentOpts := []agent.Option{agent.WithObservability(obs), agent.WithTransformer(tr)}
	if r.store != nil {
		st, ok, err := r.store.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			agentOpts = append(agentOpts, agent.WithState(st))
		}
	}
	if r.agent, err = agent.New(model, cfg.AgentConfig(), agentOpts...); err != nil {
		return nil, err
	}

	for _, ac := range cfg.Adapters {
		c, err := shdr.NewClient(ac, model, obs)
		if err != nil {
			return nil, err
		}
		r.collectors = append(r.collectors, c)
	}
	for _, oc := range cfg.OPCUA {
		c, err := opcua.NewCollector(oc, model, obs)
		if err != nil {
			return nil, err
		}
		r.collectors = append(r.collectors, c)
	}
	for _, c := range overrides.collectors {
		if b, ok := c.(binder); ok {
			if err := b.bind(model, obs); err != nil {
				return nil, err
			}
		}
		r.collectors = append(r.collectors, c)
	}

	r.http = httpapi.NewServer(cfg.HTTP, r.agent, log, obs)
	if !cfg.Metrics.Disabled {
		r.metricsSrv = observability.NewMetricsServer(cfg.Metrics.Addr, obs)
	}

	if cfg.Archive.Enabled || len(overrides.sinks) > 0 {
		if err := r.buildArchive(overrides); err != nil {
			_ = r.closeArchive()
			return nil, err
		}
	}
	return r, nil
}

func (r *Runtime) buildArchive(overrides runtimeOverrides) error {
	cfg := r.cfg.Archive

	r.wal = overrides.wal
	if r.wal == nil {
		w, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return err
		}
		r.wal, r.walOwn = w, w
	}
	r.queue = overrides.queue
	if r.queue == nil {
		r.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	r.sinks = append(r.sinks, overrides.sinks...)
	if cfg.Enabled && cfg.Timescale.ConnString != "" {
		db, err := sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			return err
		}
		r.db = db
		r.sinks = append(r.sinks, sink.NewTimescaleSink(db, cfg.Timescale.Table))
	}
	if len(r.sinks) == 0 && (!cfg.Enabled || cfg.MQTT.Broker == "") {
		return fmt.Errorf("archive needs at least one sink")
	}
	r.archiving = true
	return nil
}

// Agent exposes the agent for in-process queries and ingestion.
func (r *Runtime) Agent() *agent.Agent { return r.agent }

// Handler is the HTTP query handler, for mounting in another server.
func (r *Runtime) Handler() http.Handler { return r.http.Handler() }

// Start brings up sinks and persisted state, then runs the collectors, the
// archive pipeline and the servers in the background. Call Shutdown to stop.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("runtime already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.prepare(ctx); err != nil {
		cancel()
		return err
	}
	r.cancel = cancel
	r.done = make(chan error, 1)
	go func() { r.done <- r.serve(ctx) }()
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled or a component
// fails, then shuts everything down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.prepare(ctx); err != nil {
		return err
	}
	return r.serve(ctx)
}

// Shutdown stops a runtime launched with Start and waits for it to finish.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) prepare(ctx context.Context) error {
	if r.store != nil {
		// Persist the new instance id right away so a crash keeps it.
		if err := r.store.Save(r.agent.State()); err != nil {
			return err
		}
	}
	if !r.archiving {
		return nil
	}

	cfg := r.cfg.Archive
	if r.db != nil && cfg.Timescale.EnsureSchema {
		for _, s := range r.sinks {
			if ts, ok := s.(*sink.TimescaleSink); ok {
				if err := ts.EnsureSchema(ctx); err != nil {
					return err
				}
			}
		}
	}
	if cfg.Enabled && cfg.MQTT.Broker != "" && r.mqtt == nil {
		m, err := sink.DialMQTT(cfg.MQTT, r.obs)
		if err != nil {
			return err
		}
		r.mqtt = m
		r.sinks = append(r.sinks, m)
	}
	r.archive = pipeline.NewArchive(r.agent.Buffer(), r.wal, r.queue, r.sinks, cfg.Policy, r.obs)
	return nil
}

func (r *Runtime) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.RunEdgePipeline(gctx, r.collectors, r.agent, 0, r.obs)
	})
	if r.archive != nil {
		g.Go(func() error { return r.archive.Run(gctx) })
	}
	g.Go(r.http.ListenAndServe)
	if r.metricsSrv != nil {
		g.Go(r.metricsSrv.ListenAndServe)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := r.http.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if r.metricsSrv != nil {
			if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	return errors.Join(err, r.close())
}

// close saves the sequence position and releases archive resources.
func (r *Runtime) close() error {
	var errs []error
	if r.store != nil {
		if err := r.store.Save(r.agent.State()); err != nil {
			errs = append(errs, err)
		} else {
			r.obs.LogInfo("agent_state_saved", ports.F("next_sequence", r.agent.State().NextSequence))
		}
	}
	if err := r.closeArchive(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeArchive() error {
	var errs []error
	if r.mqtt != nil {
		r.mqtt.Close()
		r.mqtt = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	if r.walOwn != nil {
		if err := r.walOwn.Close(); err != nil {
			errs = append(errs, err)
		}
		r.walOwn = nil
	}
	return errors.Join(errs...)
}
