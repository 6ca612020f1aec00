// Package metrics exposes the Prometheus surface: a standalone metrics
// server with its own registry (scraped on a separate port, in front of the
// standard Go and process collectors) and the simulation collector the
// engine drives.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mptcloud/covid-p2p-simulation/common"
)

// MetricsServer serves /metrics from a private registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server for the given service name. The listen
// address may be empty when metrics are disabled; the registry still works
// so collectors can be wired unconditionally.
func New(name, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "service_info",
		Help: "Constant gauge carrying the service name and version labels.",
	}, []string{"service", "version"})
	info.WithLabelValues(name, common.Version).Set(1)
	registry.MustRegister(info)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{registry},
		promhttp.HandlerOpts{},
	))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Registry returns the server's registry for collector registration.
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// ListenAndServe blocks serving /metrics until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
