package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randomizedcoder/go-kproc/internal/proc"
)

// SnapshotFunc returns the current process table.
type SnapshotFunc func() []proc.Info

// Server provides HTTP endpoints for Prometheus metrics, health checks and a
// JSON view of the process table.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
	ln     net.Listener
}

// NewServer creates a new metrics server serving metrics from gatherer.
// A nil snapshot disables /procs.
func NewServer(addr string, gatherer prometheus.Gatherer, snapshot SnapshotFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)

	if snapshot != nil {
		mux.HandleFunc("/procs", procsHandler(snapshot))
	}

	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

type procView struct {
	PID      int    `json:"pid"`
	PPID     int    `json:"ppid"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Children int    `json:"children"`
	Threads  int    `json:"threads"`
	Waiters  int    `json:"waiters"`
	AgeMS    int64  `json:"age_ms"`
}

func procsHandler(snapshot SnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := snapshot()
		now := time.Now()
		out := make([]procView, len(infos))
		for i, info := range infos {
			out[i] = procView{
				PID:      info.PID,
				PPID:     info.PPID,
				Name:     info.Name,
				State:    info.State.String(),
				Children: info.Children,
				Threads:  info.Threads,
				Waiters:  info.Waiters,
				AgeMS:    now.Sub(info.Created).Milliseconds(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// Start listens on the configured address and serves in a goroutine.
// Use Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("metrics_server_starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the listening address once started, else the configured one.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}
