package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the http.Server to provide graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer creates and configures a new API server.
func NewServer(port string, h *Handlers, log *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start runs the HTTP server in a new goroutine. A listen failure is sent on
// the returned channel.
func (s *Server) Start() <-chan error {
	s.log.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
