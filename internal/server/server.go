// Package server exposes integrity availability over gRPC: the standard
// health service plus a read-only status API.
package server

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/internal/observability"
)

// Server wraps a gRPC server whose health tracks integrity availability:
// MonitorServiceName reports SERVING only while the latest epoch has a
// certified protection level.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	board  *StatusBoard
	log    logging.Logger
}

// Option configures a Server.
type Option func(*options)

type options struct {
	log     logging.Logger
	metrics *observability.RPCCollector
}

// WithLogger sets the request logger base.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRPCMetrics records per-RPC Prometheus metrics.
func WithRPCMetrics(c *observability.RPCCollector) Option {
	return func(o *options) { o.metrics = c }
}

// New builds a server publishing through board.
func New(board *StatusBoard, opts ...Option) *Server {
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}

	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(o.log),
		TracingUnaryServerInterceptor(),
	}
	if o.metrics != nil {
		interceptors = append(interceptors, o.metrics.UnaryServerInterceptor())
	}
	g := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(MonitorServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(g, hs)
	RegisterMonitorServer(g, NewMonitorService(board))

	return &Server{grpc: g, health: hs, board: board, log: o.log}
}

// Publish records the latest epoch and updates the health status.
func (s *Server) Publish(out *core.EpochOutput, state *core.ExclusionState) {
	if out == nil {
		return
	}
	s.board.Publish(out.Summary(), state)
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if out.Available() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MonitorServiceName, st)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving monitor gRPC", logging.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
