package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

func TestWaitForWALCapacityBlockThenSucceed(t *testing.T) {
	wal := &mockWAL{
		sizes: []int64{150, 50},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "block",
		IdleSleep:       time.Millisecond,
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(context.Background(), wal, pol, obs); !ok {
		t.Fatalf("expected waitForWALCapacity to eventually succeed")
	}
	if wal.calls < 2 {
		t.Fatalf("expected multiple stats calls, got %d", wal.calls)
	}
}

func TestWaitForWALCapacityBlockHonorsContext(t *testing.T) {
	wal := &mockWAL{sizes: []int64{500}}
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if ok := waitForWALCapacity(ctx, wal, pol, &mockObs{}); ok {
		t.Fatalf("expected blocked wait to give up on cancellation")
	}
}

func TestWaitForWALCapacityDrop(t *testing.T) {
	wal := &mockWAL{
		sizes: []int64{200, 200},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "drop",
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(context.Background(), wal, pol, obs); ok {
		t.Fatalf("expected waitForWALCapacity to drop and return false")
	}
	if obs.errorCount() == 0 {
		t.Fatalf("expected error to be logged")
	}
}

func TestEnqueueWithPolicyBlock(t *testing.T) {
	queue := &mockQueue{}
	queue.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), queue, 1, &domain.Observation{}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if queue.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", queue.calls)
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), queue, 1, &domain.Observation{}, pol, obs); ok {
		t.Fatalf("expected enqueueWithPolicy to fail")
	}
	if obs.errorCount() == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

func TestEnqueueWithPolicyInvalid(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	obs := &mockObs{}
	if ok := enqueueWithPolicy(context.Background(), queue, 1, &domain.Observation{}, ports.Policy{OnQueueFull: "shrug"}, obs); ok {
		t.Fatalf("expected unknown policy to refuse")
	}
	if obs.errorCount() != 1 {
		t.Fatalf("expected one policy error, got %d", obs.errorCount())
	}
}

func TestRunEdgePipelineDeliversEventsAndDrainsOnShutdown(t *testing.T) {
	col := &fakeCollector{name: "mill"}
	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- RunEdgePipeline(ctx, []ports.Collector{col}, h, 4, &mockObs{}) }()

	col.waitStarted(t)
	col.emit(domain.AdapterEvent{Adapter: "mill", Kind: domain.EventConnected})
	col.emit(domain.AdapterEvent{Adapter: "mill", Kind: domain.EventData})

	deadline := time.Now().Add(time.Second)
	for h.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pipeline returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline did not stop")
	}

	kinds := h.kinds()
	if len(kinds) != 3 {
		t.Fatalf("expected connect, data and the disconnect sent on stop, got %v", kinds)
	}
	if kinds[0] != domain.EventConnected || kinds[1] != domain.EventData || kinds[2] != domain.EventDisconnected {
		t.Fatalf("events out of order: %v", kinds)
	}
	if !col.stopped.Load() {
		t.Fatalf("collector was not stopped")
	}
}

func TestRunEdgePipelineStartFailureStopsStarted(t *testing.T) {
	first := &fakeCollector{name: "a"}
	second := &fakeCollector{name: "b", startErr: errors.New("boom")}

	err := RunEdgePipeline(context.Background(), []ports.Collector{first, second}, &recordingHandler{}, 0, &mockObs{})
	if err == nil {
		t.Fatalf("expected start failure")
	}
	if !first.stopped.Load() {
		t.Fatalf("expected the started collector to be stopped")
	}
	if second.stopped.Load() {
		t.Fatalf("collector that failed to start should not be stopped")
	}
}

type fakeCollector struct {
	name     string
	startErr error

	mu      sync.Mutex
	out     chan<- domain.AdapterEvent
	stopped atomic.Bool
}

func (c *fakeCollector) Name() string { return c.name }

func (c *fakeCollector) Start(out chan<- domain.AdapterEvent) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	return nil
}

func (c *fakeCollector) Stop() error {
	c.stopped.Store(true)
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out != nil {
		out <- domain.AdapterEvent{Adapter: c.name, Kind: domain.EventDisconnected}
	}
	return nil
}

func (c *fakeCollector) waitStarted(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		ok := c.out != nil
		c.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("collector %s never started", c.name)
}

func (c *fakeCollector) emit(ev domain.AdapterEvent) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	out <- ev
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.AdapterEvent
}

func (h *recordingHandler) HandleEvent(ev domain.AdapterEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *recordingHandler) kinds() []domain.AdapterEventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.AdapterEventKind, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

type mockWAL struct {
	ports.WAL
	sizes []int64
	calls int
}

func (m *mockWAL) Stats() ports.WALStats {
	idx := m.calls
	if idx >= len(m.sizes) {
		idx = len(m.sizes) - 1
	}
	m.calls++
	return ports.WALStats{
		SizeBytes: m.sizes[idx],
	}
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(id ports.WALEntryID, o *domain.Observation) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []ports.QueuedObservation { return nil }
func (m *mockQueue) Len() int                                   { return 0 }

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
	dlq      []ports.WALEntryID
	warnings []string
}

func (m *mockObs) LogDebug(string, ...ports.Field) {}
func (m *mockObs) LogInfo(string, ...ports.Field)  {}

func (m *mockObs) LogWarn(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	m.warnings = append(m.warnings, msg)
	m.mu.Unlock()
}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}

func (m *mockObs) LogCritical(string, error, ...ports.Field) {}

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
	m.mu.Unlock()
}

func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}

func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Observation, _ error) {
	m.mu.Lock()
	m.dlq = append(m.dlq, id)
	m.mu.Unlock()
}

func (m *mockObs) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockObs) dlqCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dlq)
}

func (m *mockObs) warned(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.warnings {
		if w == msg {
			return true
		}
	}
	return false
}
