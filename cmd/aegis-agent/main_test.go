package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const metricsText = `# HELP aegis_observations_appended_total Observations appended.
# TYPE aegis_observations_appended_total counter
aegis_observations_appended_total 120
aegis_adapters_connected 2
aegis_shdr_lines_dropped_total{adapter="mill"} 3
aegis_shdr_lines_dropped_total{adapter="lathe"} 4
`

func TestScrapeMetricsSumsLabelledSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(metricsText))
	}))
	defer srv.Close()

	values, err := scrapeMetrics(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("scrapeMetrics returned error: %v", err)
	}
	if values["aegis_observations_appended_total"] != 120 || values["aegis_adapters_connected"] != 2 {
		t.Fatalf("unexpected values %v", values)
	}
	if values["aegis_shdr_lines_dropped_total"] != 7 {
		t.Fatalf("expected labelled series to be summed, got %v", values["aegis_shdr_lines_dropped_total"])
	}
}

func TestScrapeMetricsRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := scrapeMetrics(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}

func TestRenderStatsRates(t *testing.T) {
	prev := map[string]float64{"aegis_observations_appended_total": 100}
	cur := map[string]float64{"aegis_observations_appended_total": 120, "aegis_adapters_connected": 2}

	first := renderStats(cur, nil, 2*time.Second)
	if !strings.Contains(first, "obs/s=-") || !strings.Contains(first, "adapters=2") {
		t.Fatalf("unexpected first line %q", first)
	}
	next := renderStats(cur, prev, 2*time.Second)
	if !strings.Contains(next, "obs/s=10.0") {
		t.Fatalf("expected a rate of 10/s, got %q", next)
	}
}
