// v1
// internal/ops/server.go

// Package ops serves the operational HTTP surface shared by every
// subcommand: liveness, a JSON status snapshot, and Prometheus metrics.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
)

// Status is the snapshot returned by /status. Fields irrelevant for a given
// service are left at their zero value.
type Status struct {
	Service           string `json:"service"`
	WatermarkMs       int64  `json:"watermarkMs,omitempty"`
	OpenWindows       int    `json:"openWindows,omitempty"`
	SpillBacklogBytes int64  `json:"spillBacklogBytes,omitempty"`
}

// StatusFunc supplies the current snapshot when /status is hit.
type StatusFunc func() Status

// Server is the ops endpoint for one running service.
type Server struct {
	addr   string
	log    *slog.Logger
	status StatusFunc
	met    *metrics.Metrics
	http   *http.Server
}

// New builds the ops server. status may be nil, in which case /status
// returns only the service name.
func New(addr, service string, met *metrics.Metrics, status StatusFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if status == nil {
		status = func() Status { return Status{Service: service} }
	}

	s := &Server{addr: addr, log: log, status: status, met: met}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	if met != nil {
		r.Handle("/metrics", met.Handler()).Methods("GET")
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(os.Stdout, r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops_server_started", slog.String("addr", s.addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Error("ops_server_shutdown_error", slog.Any("err", err))
		}
		s.log.Info("ops_server_stopped")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.log.Error("ops_status_encode_error", slog.Any("err", err))
	}
}
