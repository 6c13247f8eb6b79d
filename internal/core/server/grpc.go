// Package server provides gRPC and metrics server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/cascade/internal/core/api"
	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/metrics"
)

// DefaultShutdownTimeout bounds GracefulStop when the caller's context has
// no deadline.
const DefaultShutdownTimeout = 30 * time.Second

// Health check methods never require an API key.
var healthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// GRPCServer manages gRPC server lifecycle.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	config config.APIConfig
	logger *slog.Logger
}

// NewGRPCServer creates the gRPC server with interceptors and service
// registration. authenticator may be nil when cfg.Auth is false; m may be nil.
func NewGRPCServer(cfg config.APIConfig, service *api.CollectorService, authenticator *auth.Authenticator, m *metrics.Metrics, logger *slog.Logger) (*GRPCServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if cfg.Auth && authenticator == nil {
		return nil, fmt.Errorf("authenticator required when api.auth is enabled")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var interceptors []grpc.UnaryServerInterceptor
	if m != nil {
		interceptors = append(interceptors, m.UnaryServerInterceptor())
	}
	if cfg.RequestTimeout > 0 {
		interceptors = append(interceptors, timeoutInterceptor(cfg.RequestTimeout))
	}
	if cfg.Auth {
		interceptors = append(interceptors, authenticator.UnaryInterceptor(healthMethods...))
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	service.Register(srv)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{
		server: srv,
		health: healthServer,
		config: cfg,
		logger: logger,
	}, nil
}

// Start binds the configured address and serves until Shutdown.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := s.config.Addr()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis, capped at MaxConnections when set.
func (s *GRPCServer) Serve(lis net.Listener) error {
	if s.config.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, s.config.MaxConnections)
	}
	s.logger.Info("grpc server listening", "addr", lis.Addr().String(), "auth", s.config.Auth)
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown marks the server NOT_SERVING and stops gracefully. If ctx ends
// first, or DefaultShutdownTimeout passes, open calls are cut off.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(DefaultShutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}
