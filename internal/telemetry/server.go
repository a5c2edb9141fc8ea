// Package telemetry serves the gateway's metrics endpoint: a tiny HTTP
// responder exposing the Prometheus collector's series on both /metrics
// and /.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/dbbouncer/internal/metrics"
)

// Server is the telemetry HTTP listener. It owns no state beyond the
// shared metrics collector and the underlying http.Server.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) the telemetry server for the
// given collector.
func NewServer(m *metrics.Collector) *Server {
	r := mux.NewRouter()
	handler := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	r.Handle("/metrics", handler).Methods(http.MethodGet)
	r.Handle("/", handler).Methods(http.MethodGet)

	srv := &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv.SetKeepAlivesEnabled(false)

	return &Server{httpServer: srv}
}

// Start binds host:port and serves in the background.
func (s *Server) Start(host, port string) error {
	addr := fmt.Sprintf("%s:%s", hostLiteral(host), port)
	s.httpServer.Addr = addr

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("telemetry listen %s: %w", addr, err)
	}

	slog.Info("telemetry endpoint listening", "addr", addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("telemetry server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the telemetry server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// hostLiteral brackets a bare IPv6 wildcard so net.Listen parses it as an
// address rather than a malformed host:port split.
func hostLiteral(host string) string {
	if host == "::" {
		return "[::]"
	}
	return host
}
