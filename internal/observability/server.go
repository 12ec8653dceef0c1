package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes Prometheus metrics and a health probe over HTTP.
// It is intended for long-running processes such as bulk ingests, where an
// operator wants to scrape progress while the command runs.
type MetricsServer struct {
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// StartMetricsServer begins serving /metrics and /healthz on addr.
// The server runs in a background goroutine until Stop is called.
func StartMetricsServer(addr string, logger *slog.Logger) (*MetricsServer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &MetricsServer{
		logger:   logger,
		server:   server,
		listener: listener,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", listener.Addr().String())
	return s, nil
}

// Addr returns the address the server is listening on. Useful when the
// configured address carried port 0.
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight scrapes up to the
// context deadline. A nil context gets a five second budget.
func (s *MetricsServer) Stop(ctx context.Context) {
	if s == nil || s.server == nil {
		return
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown error", "error", err)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}
