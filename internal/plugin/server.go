package plugin

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
)

// Server hosts a LogProcessor over gRPC together with the standard health service
type Server struct {
	addr   string
	impl   LogProcessorServer
	server *grpc.Server
	health *health.Server
	logger *logging.Logger
}

// NewServer creates a server for impl listening on addr
func NewServer(addr string, impl LogProcessorServer, logger *logging.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		addr:   addr,
		impl:   impl,
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.WithComponent("plugin-server"),
	}

	RegisterLogProcessorServer(s.server, impl)
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("address", lis.Addr().String()).Msg("Plugin server listening")
	return s.server.Serve(lis)
}

// Shutdown drains in-flight calls, or stops immediately once ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}
