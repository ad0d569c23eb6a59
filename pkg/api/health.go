package api

import (
	"net/http"
	"time"

	"github.com/golem-io/worker-executor/pkg/metrics"
)

// HealthServer provides the HTTP health/readiness/metrics endpoints served
// next to the gRPC API. The handlers themselves live in pkg/metrics so the
// subsystems registering health state don't depend on this package.
type HealthServer struct {
	mux *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer() *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())
	return &HealthServer{mux: mux}
}

// Handler exposes the mux for tests and embedding.
func (hs *HealthServer) Handler() http.Handler { return hs.mux }

// Start starts the health check HTTP server. Blocking.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}
