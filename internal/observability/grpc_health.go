package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCHealthServer exposes the standard gRPC health service so orchestrators
// that probe over gRPC can watch the service.
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewGRPCHealthServer listens on addr and registers the health service.
// The overall status starts as NOT_SERVING until readiness is reported.
func NewGRPCHealthServer(addr string) (*GRPCHealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealthServer{
		server:   server,
		health:   healthServer,
		listener: listener,
		logger:   Component("grpc_health"),
	}, nil
}

// Addr returns the address the server is listening on
func (s *GRPCHealthServer) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks serving gRPC until Stop is called
func (s *GRPCHealthServer) Serve() error {
	s.logger.Info().Str("addr", s.Addr()).Msg("gRPC health server listening")
	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
	return nil
}

// SetServing flips both the overall and the named service status
func (s *GRPCHealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// WatchReadiness runs checks every interval and mirrors the result into the
// health service until ctx is done.
func (s *GRPCHealthServer) WatchReadiness(ctx context.Context, interval time.Duration, checks map[string]HealthCheckFunc) {
	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		dependencies, healthy := RunChecks(checkCtx, checks)
		if !healthy {
			s.logger.Warn().Interface("dependencies", dependencies).Msg("Readiness checks failing")
		}
		s.SetServing(healthy)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// Stop marks the service as shutting down and stops the server gracefully
func (s *GRPCHealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
