// Package observability holds the monitor's Prometheus collectors and its
// OpenTelemetry tracing setup.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// register adds c to reg. When an identical collector is already registered
// the existing one is returned so that several monitors in one process can
// share the default registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		var zero T
		return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	var zero T
	return zero, fmt.Errorf("register %s: %w", name, err)
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// Handler serves gatherer on /metrics, or the default gatherer when nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RPCCollector counts and times calls to the monitor's gRPC status API.
type RPCCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewRPCCollector registers RPC metrics against reg, or the default
// registry when nil.
func NewRPCCollector(reg prometheus.Registerer) (*RPCCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "araim_rpc_requests_total",
		Help: "Status API calls, labeled by service, method and gRPC code.",
	}, []string{"service", "method", "code"}), "araim_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "araim_rpc_request_duration_seconds",
		Help:    "Status API latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"service", "method"}), "araim_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	return &RPCCollector{gatherer: gathererFor(reg), RPCRequests: requests, RPCDurations: durations}, nil
}

// UnaryServerInterceptor records a count and a latency sample per call. A nil
// collector passes calls through.
func (c *RPCCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if c == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)

		var fullMethod string
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler serves the collector's registry.
func (c *RPCCollector) Handler() http.Handler {
	if c == nil {
		return Handler(nil)
	}
	return Handler(c.gatherer)
}

// SplitMethod turns "/araim.v1.MonitorService/GetStatus" into
// ("MonitorService", "GetStatus"). Anything unparseable is "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	path := strings.TrimPrefix(fullMethod, "/")
	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		return service, method
	}
	if s := path[:slash]; s != "" {
		if dot := strings.LastIndex(s, "."); dot >= 0 && dot+1 < len(s) {
			s = s[dot+1:]
		}
		service = s
	}
	if m := path[slash+1:]; m != "" {
		method = m
	}
	return service, method
}
