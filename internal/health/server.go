// Package health exposes the HTTP endpoint the coordinator's own health
// check polls, plus a Prometheus scrape endpoint. It is built the way
// internal/app/router/server.go builds its Server: a thin wrapper around
// *http.Server and a chi.Router, with explicit Start/Shutdown lifecycle
// methods rather than a bare http.ListenAndServe call.
package health

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config carries the bind address for the health/metrics listener.
type Config struct {
	Address string
}

// Server serves the catch-all health check and /metrics. It must be
// started before the Leadership Manager registers with the coordinator —
// a health check pointed at a server that isn't listening yet would fail
// registration outright.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds a Server. Call Start to begin listening.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.NotFound(okHandler)
	router.MethodNotAllowed(okHandler)
	router.Get("/*", okHandler)

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Address,
			Handler: router,
		},
		logger: logger,
	}
}

// okHandler answers every health-check probe unconditionally: the process
// being up and able to accept a connection IS the health signal (spec
// §4.1). It never inspects leadership state.
func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ok"))
}

// Start begins listening in a background goroutine. A bind failure is
// reported on the returned channel; a nil value means the server shut
// down cleanly via Shutdown.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health endpoint listening", zap.String("address", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()
	return errCh
}

// Shutdown gracefully stops the listener, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
