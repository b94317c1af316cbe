package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

func isolateRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	return reg
}

func TestPromObsMetrics(t *testing.T) {
	isolateRegistry(t)
	obs := NewPromObs()

	obs.IncCounter(ports.MetricObservationsAppended, 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricObservationsAppended]); got != 5 {
		t.Fatalf("expected appended counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricQueueDropped, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricQueueDropped]); got != 2 {
		t.Fatalf("expected queue drop counter 2, got %f", got)
	}

	obs.SetGauge(ports.GaugeWALSize, 42)
	if got := testutil.ToFloat64(obs.gauges[ports.GaugeWALSize]); got != 42 {
		t.Fatalf("expected wal gauge 42, got %f", got)
	}

	obs.SetGauge(ports.GaugeLastSequence, 17)
	if got := testutil.ToFloat64(obs.gauges[ports.GaugeLastSequence]); got != 17 {
		t.Fatalf("expected last sequence gauge 17, got %f", got)
	}

	obs.ObserveLatency(ports.LatencySink, 0.5)
	hCollector := obs.histos[ports.LatencySink].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("not_a_metric", 1)
	obs.SetGauge("not_a_gauge", 1)

	obs.RecordDLQ(1, nil, nil)
	if got := testutil.ToFloat64(obs.counters[ports.MetricDLQ]); got != 1 {
		t.Fatalf("expected dlq counter 1, got %f", got)
	}
}

func TestPromObsLogsStructuredFields(t *testing.T) {
	isolateRegistry(t)
	core, logs := observer.New(zapcore.DebugLevel)
	obs := NewPromObs(WithLogger(zap.New(core)))

	obs.LogDebug("shdr_unknown_key", ports.F("key", "Xact"))
	obs.LogWarn("adapter_heartbeat_missed", errors.New("timeout"), ports.F("adapter", "mill"))
	obs.LogCritical("request_panic", errors.New("boom"))
	obs.RecordDLQ(9, &domain.Observation{DataItemID: "exec", Sequence: 12}, errors.New("sink down"))

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["key"]; got != "Xact" {
		t.Fatalf("expected key field Xact, got %v", got)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "timeout" {
		t.Fatalf("unexpected warn entry: %+v", entries[1])
	}
	if entries[2].ContextMap()["critical"] != true {
		t.Fatalf("critical entries must be flagged, got %v", entries[2].ContextMap())
	}
	dlq := entries[3].ContextMap()
	if entries[3].Message != "archive_dlq" || dlq["data_item"] != "exec" || dlq["sequence"] != uint64(12) {
		t.Fatalf("unexpected dlq entry: %s %v", entries[3].Message, dlq)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}

	logger, err = NewLogger("", false)
	if err != nil {
		t.Fatalf("NewLogger default: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("production logger should default to info")
	}

	if _, err := NewLogger("loud", false); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}

func TestMetricsHandler(t *testing.T) {
	isolateRegistry(t)
	obs := NewPromObs()
	obs.IncCounter(ports.MetricRequests, 3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), ports.MetricRequests+" 3") {
		t.Fatalf("expected %s in metrics output", ports.MetricRequests)
	}
}
