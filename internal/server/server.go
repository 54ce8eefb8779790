// Package server runs an HTTP handler with graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
)

// Server wraps an http.Server
type Server struct {
	name   string
	srv    *http.Server
	logger *logging.Logger
	errCh  chan error
	addr   net.Addr
}

// Config holds server configuration
type Config struct {
	Name         string
	Address      string
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLS          *tls.Config // nil serves plain HTTP
	Logger       *logging.Logger
}

// New creates a server
func New(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Server{
		name: cfg.Name,
		srv: &http.Server{
			Addr:              cfg.Address,
			Handler:           cfg.Handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			TLSConfig:         cfg.TLS,
		},
		logger: cfg.Logger.WithComponent(cfg.Name),
		errCh:  make(chan error, 1),
	}
}

// Start binds the address and serves in the background. Bind errors are
// returned directly; later serve errors are reported by Err.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("%s server: %w", s.name, err)
	}
	s.addr = lis.Addr()
	if s.srv.TLSConfig != nil {
		lis = tls.NewListener(lis, s.srv.TLSConfig)
	}

	s.logger.Info().Str("address", s.addr.String()).Bool("tls", s.srv.TLSConfig != nil).Msg("Starting server")
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
			s.errCh <- fmt.Errorf("%s server: %w", s.name, err)
		}
		close(s.errCh)
	}()
	return nil
}

// Addr returns the bound address after Start
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Err reports a serve failure. The channel is closed when serving stops.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Name returns the server name
func (s *Server) Name() string {
	return s.name
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down server")
		return err
	}
	return nil
}
