package events

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

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusPath  = "/status"
	MetricsPath = "/metrics"
	HealthzPath = "/healthz"
)

// Server exposes published reports and metrics over HTTP.
type Server struct {
	addr        string
	broadcaster *Broadcaster
	logger      *slog.Logger

	mu   sync.RWMutex
	last []byte
}

// NewServer returns a server that will listen on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	return &Server{
		addr:        addr,
		broadcaster: NewBroadcaster(),
		logger:      logger,
	}
}

// Publish encodes v as JSON, remembers it as the latest status and sends it
// to every connected event stream.
func (s *Server) Publish(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("could not encode event", "error", err)
		return
	}

	s.mu.Lock()
	s.last = msg
	s.mu.Unlock()

	s.broadcaster.Broadcast(msg)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(EventsPath, NewWebSocketHandler(s.broadcaster, s.logger))
	mux.Handle(MetricsPath, promhttp.Handler())
	mux.HandleFunc(StatusPath, s.serveStatus)
	mux.HandleFunc(HealthzPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(last)
}

// Run serves until ctx ends, then shuts down gracefully. A listen failure is
// returned immediately.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	s.logger.Info("status server listening", "addr", listener.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		return fmt.Errorf("serve status on %s: %w", server.Addr, err)
	}
}
