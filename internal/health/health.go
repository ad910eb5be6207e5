// Package health embeds a standard gRPC health-checking service
// (google.golang.org/grpc/health) on each node so an external supervisor can
// observe crash injection without speaking the 3PC wire protocol. It is
// pure liveness plumbing: nothing in the commit/abort path depends on it.
package health

import (
	"net"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"threepc/internal/xlog"
)

// ServiceName is the single service whose status tracks the node's crashed
// flag; there is only ever one "service" per node in this testbed.
const ServiceName = "node"

// Server wraps a grpc.Server exposing only the health service.
type Server struct {
	grpcSrv *grpc.Server
	hsrv    *health.Server
	lis     net.Listener
}

// Start binds port and begins serving in the background. A port of 0 means
// "disabled" and Start returns (nil, nil) — callers should skip wiring a
// health server entirely in that case.
func Start(port int) (*Server, error) {
	if port == 0 {
		return nil, nil
	}
	lis, err := net.Listen("tcp", fmtAddr(port))
	if err != nil {
		return nil, err
	}
	hsrv := health.NewServer()
	hsrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hsrv)

	s := &Server{grpcSrv: grpcSrv, hsrv: hsrv, lis: lis}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			xlog.Debugf("health server stopped: %v", err)
		}
	}()
	return s, nil
}

// SetCrashed flips the health status to NOT_SERVING, matching the node's
// `crashed` admin toggle.
func (s *Server) SetCrashed() {
	if s == nil {
		return
	}
	s.hsrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// SetRecovered flips the health status back to SERVING.
func (s *Server) SetRecovered() {
	if s == nil {
		return
	}
	s.hsrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Stop shuts the health server down.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	s.grpcSrv.Stop()
}

func fmtAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
