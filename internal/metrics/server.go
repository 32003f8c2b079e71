package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the sidecar HTTP listener serving /metrics and /healthz on a
// separate port from the WebSocket listener.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds the sidecar listener. clients reports the current live
// connection count and must be safe to call from any goroutine.
func NewServer(addr string, reg *prometheus.Registry, clients func() int, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", HealthHandler(clients))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// HealthHandler reports liveness and the live client count.
func HealthHandler(clients func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"clients": clients(),
		})
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
