package aegisagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/adapters/state"
	"github.com/ghalamif/AegisAgent/internal/domain"
)

func millDevice() *Device {
	return &Device{Component: Component{
		ID:   "mill",
		Name: "Mill",
		DataItems: []*DataItem{
			{ID: "avail", Category: domain.CategoryEvent, Type: "AVAILABILITY"},
			{ID: "exec", Category: domain.CategoryEvent, Type: "EXECUTION"},
		},
	}}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Devices: []*Device{millDevice()},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:0"},
		Metrics: MetricsConfig{Disabled: true},
		State:   StateConfig{Path: filepath.Join(dir, "state.yaml")},
		Archive: ArchiveConfig{
			Policy: Policy{MaxQueueLen: 64, MaxBatchSize: 16, IdleSleep: time.Millisecond},
			WAL:    WALConfig{Dir: filepath.Join(dir, "wal")},
		},
	}
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	cfg := testConfig(t)

	queueStub := &stubQueue{}
	collectorStub := &stubCollector{}
	sinkStub := &stubSink{}
	transformerStub := &stubTransformer{}
	walStub := &stubWAL{}
	obsStub := &stubObservability{}
	storeStub := &stubStore{}

	rt, err := NewRuntime(
		cfg,
		WithCollector(collectorStub),
		WithSink(sinkStub),
		WithTransformer(transformerStub),
		WithWAL(walStub),
		WithObservationQueue(queueStub),
		WithObservability(obsStub),
		WithStateStore(storeStub),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	if len(rt.collectors) != 1 || rt.collectors[0] != collectorStub {
		t.Fatalf("expected custom collector to be used")
	}
	if len(rt.sinks) != 1 || rt.sinks[0] != sinkStub {
		t.Fatalf("expected custom sink to be used")
	}
	if rt.wal != walStub {
		t.Fatalf("expected custom WAL to be used")
	}
	if rt.queue != queueStub {
		t.Fatalf("expected custom queue to be used")
	}
	if rt.obs != obsStub {
		t.Fatalf("expected custom observability to be used")
	}
	if rt.store != storeStub || !storeStub.loaded {
		t.Fatalf("expected custom state store to be loaded")
	}
	if rt.db != nil || rt.walOwn != nil {
		t.Fatalf("expected no db or file WAL when custom adapters are provided")
	}
	if !rt.archiving {
		t.Fatalf("a custom sink should enable the archive")
	}
}

func TestNewRuntimeRejectsArchiveWithoutSinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = true
	if _, err := NewRuntime(cfg, WithObservability(&stubObservability{})); err == nil {
		t.Fatalf("expected an archive without sinks to be rejected")
	}
}

func TestNewRuntimeRestoresState(t *testing.T) {
	cfg := testConfig(t)
	store := &stubStore{state: domain.AgentState{InstanceID: 77, NextSequence: 500}, ok: true}

	rt, err := NewRuntime(cfg, WithObservability(&stubObservability{}), WithStateStore(store))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if rt.Agent().InstanceID() != 77 {
		t.Fatalf("expected instance 77, got %d", rt.Agent().InstanceID())
	}
	if first := rt.Agent().Buffer().Stats().FirstSequence; first != 500 {
		t.Fatalf("expected numbering to continue at 500, got %d", first)
	}
}

func TestRuntimeLinesToArchiveAndQueries(t *testing.T) {
	cfg := testConfig(t)
	lines := NewLineCollector("lines", LineCollectorConfig{AutoAvailable: true})

	var (
		mu       sync.Mutex
		archived []*Observation
	)
	snk := NewCallbackSink("memory", func(batch []*Observation) error {
		mu.Lock()
		archived = append(archived, batch...)
		mu.Unlock()
		return nil
	})

	rt, err := NewRuntime(cfg, WithCollector(lines), WithSink(snk), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := lines.Push("2024-01-01T00:00:00Z|exec|ACTIVE|bogus|1")
		if err == nil {
			if n != 1 {
				t.Fatalf("expected 1 input from the line, got %d", n)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("line collector never started: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	archivedActive := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, o := range archived {
			if o.DataItemID == "exec" && o.Value == "ACTIVE" {
				return true
			}
		}
		return false
	}
	for !archivedActive() {
		if time.Now().After(deadline) {
			t.Fatalf("ACTIVE never reached the archive sink")
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/current", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ACTIVE") || !strings.Contains(rec.Body.String(), "AVAILABLE") {
		t.Fatalf("unexpected current response %d: %s", rec.Code, rec.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	cur, ok := rt.Agent().Buffer().Latest("exec")
	if !ok || !cur.Latest.IsUnavailable() {
		t.Fatalf("expected exec UNAVAILABLE after the collector stopped, got %+v", cur)
	}

	saved, ok, err := state.NewFileStore(cfg.State.Path).Load()
	if err != nil || !ok {
		t.Fatalf("expected saved state, ok=%v err=%v", ok, err)
	}
	want := rt.Agent().State()
	if saved.InstanceID != want.InstanceID || saved.NextSequence != want.NextSequence {
		t.Fatalf("saved state %+v does not match agent %+v", saved, want)
	}
}

type stubCollector struct{}

func (s *stubCollector) Name() string                               { return "stub" }
func (s *stubCollector) Start(out chan<- domain.AdapterEvent) error { return nil }
func (s *stubCollector) Stop() error                                { return nil }

type stubSink struct{}

func (s *stubSink) WriteBatch(batch []*Observation) error { return nil }
func (s *stubSink) Name() string                          { return "stub" }

type stubTransformer struct{}

func (s *stubTransformer) Transform(item *DataItem, o *Observation) (*Observation, error) {
	return o, nil
}
func (s *stubTransformer) Version() uint16 { return 42 }

type stubQueue struct{}

func (s *stubQueue) Enqueue(id WALEntryID, o *Observation) bool { return true }
func (s *stubQueue) DequeueBatch(max int) []QueuedObservation   { return nil }
func (s *stubQueue) Len() int                                   { return 0 }

type stubWAL struct{}

func (s *stubWAL) Append(o *Observation) (WALEntryID, error) { return 0, nil }
func (s *stubWAL) Iterate(from WALEntryID, fn func(id WALEntryID, o *Observation) error) error {
	return nil
}
func (s *stubWAL) Commit(upto WALEntryID) error { return nil }
func (s *stubWAL) TruncateCommitted() error     { return nil }
func (s *stubWAL) Stats() WALStats              { return WALStats{} }

type stubStore struct {
	state  domain.AgentState
	ok     bool
	loaded bool
}

func (s *stubStore) Load() (domain.AgentState, bool, error) {
	s.loaded = true
	return s.state, s.ok, nil
}
func (s *stubStore) Save(st domain.AgentState) error { s.state = st; return nil }

type stubObservability struct{}

func (s *stubObservability) LogDebug(string, ...Field)                 {}
func (s *stubObservability) LogInfo(string, ...Field)                  {}
func (s *stubObservability) LogWarn(string, error, ...Field)           {}
func (s *stubObservability) LogError(string, error, ...Field)          {}
func (s *stubObservability) LogCritical(string, error, ...Field)       {}
func (s *stubObservability) IncCounter(string, float64)                {}
func (s *stubObservability) ObserveLatency(string, float64)            {}
func (s *stubObservability) SetGauge(string, float64)                  {}
func (s *stubObservability) RecordDLQ(WALEntryID, *Observation, error) {}
