package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"bookwell.io/internal/obs"
)

// GRPCServer implements grpc.health.v1.Health on top of the readiness check.
// The empty service name and serviceName are both recognised.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness ReadinessChecker
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r ReadinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyFunc(nil)
	}
	return &GRPCServer{readiness: r}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
}

// Check evaluates readiness. Failing dependencies report NOT_SERVING.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn().Err(err).Msg("grpc readiness check failed")
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
