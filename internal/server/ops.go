package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health is the body served on /healthz.
type Health struct {
	Status  string            `json:"status"` // ok or unavailable
	Service string            `json:"service"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthFunc reports the current process health.
type HealthFunc func() Health

// OpsServer serves /healthz and /metrics for a long-running process.
type OpsServer struct {
	addr     string
	router   *mux.Router
	srv      *http.Server
	listener net.Listener
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewOpsServer creates a new ops server
func NewOpsServer(addr string, gatherer prometheus.Gatherer, health HealthFunc, logger *slog.Logger) *OpsServer {
	s := &OpsServer{addr: addr, logger: logger}
	s.router = NewRouter(gatherer, health)
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// NewRouter builds the ops routes.
func NewRouter(gatherer prometheus.Gatherer, health HealthFunc) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler(health)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}

// Start binds the listener and serves in the background.
func (s *OpsServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	s.listener = listener
	s.logger.Info("ops_server_listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops_server_failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *OpsServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *OpsServer) Stop(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}
