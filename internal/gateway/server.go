package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chaz8081/hyena-bridge/internal/telemetry"
)

// Server runs the HTTP API.
type Server struct {
	listen string
	server *http.Server

	mu   sync.Mutex
	addr string
}

// New constructs a Server without starting it.
func New(listen string, source Source, bus *telemetry.Bus) *Server {
	srv := &http.Server{
		Handler:           NewRouter(source, bus),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{listen: listen, server: srv}
}

// Start serves the API and blocks until ctx is cancelled or the server
// fails. A cancelled ctx triggers a graceful shutdown and a nil return.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	slog.Info("[API] gateway listening", "addr", ln.Addr().String())

	srvErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutCtx)
	case err := <-srvErr:
		return err
	}
}

// Addr reports the bound address once Start has begun listening, and ""
// before that. Useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
