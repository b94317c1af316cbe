package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// MetricsServer serves /metrics and /healthz.
type MetricsServer struct {
	srv *http.Server
	obs ports.Observability
}

func NewMetricsServer(addr string, obs ports.Observability) *MetricsServer {
	if obs == nil {
		obs = ports.Discard
	}
	return &MetricsServer{srv: &http.Server{Addr: addr, Handler: Handler()}, obs: obs}
}

// Handler returns the mux behind the metrics server.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe blocks until the server is shut down.
func (m *MetricsServer) ListenAndServe() error {
	m.obs.LogInfo("metrics_server_started", ports.F("addr", m.srv.Addr))
	if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.obs.LogError("metrics_server_exited", err)
		return err
	}
	return nil
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
