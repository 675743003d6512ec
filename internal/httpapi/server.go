package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

// Server wraps the router in a lifecycle-managed HTTP server.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer binds the handler to addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      2 * time.Minute, // settlement confirmation can take a while
		},
		log: logger.NewDefault("httpapi"),
	}
}

func (s *Server) Name() string { return "httpapi" }

// Start begins serving. Listen errors after startup are logged, not fatal to
// the caller, since Start must return for the manager to proceed.
func (s *Server) Start(_ context.Context) error {
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server exited")
		}
	}()
	return nil
}

// Stop drains in-flight requests up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
