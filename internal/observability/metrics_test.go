package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/model"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/araim.v1.MonitorService/GetStatus"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MonitorService", "GetStatus", "OK")); got != 1 {
		t.Fatalf("araim_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "araim_rpc_request_duration_seconds", map[string]string{
		"service": "MonitorService",
		"method":  "GetStatus",
	}); count != 1 {
		t.Fatalf("araim_rpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/araim.v1.MonitorService/GetExclusions"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MonitorService", "GetExclusions", "InvalidArgument")); got != 1 {
		t.Fatalf("araim_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesFDEMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rpc, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	fde, err := NewFDECollector(reg)
	if err != nil {
		t.Fatalf("NewFDECollector: %v", err)
	}
	rpc.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	fde.RecordEpoch(&core.EpochOutput{
		State:            core.StateNominal,
		ActiveSatellites: []model.SatelliteID{"GPS01", "GPS02", "GPS03", "GPS04", "GPS05"},
		ProtectionLevels: &core.ProtectionLevels{Vertical: 12.5, Horizontal: 7.25, EMT: 3},
	}, 0, 2*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	rpc.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"araim_rpc_requests_total",
		"araim_epochs_total",
		"araim_protection_level_meters",
		"araim_active_satellites 5",
		"araim_epoch_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestFDECollectorRecordsUnavailability(t *testing.T) {
	reg := prometheus.NewRegistry()
	fde, err := NewFDECollector(reg)
	if err != nil {
		t.Fatalf("NewFDECollector: %v", err)
	}
	fde.RecordEpoch(&core.EpochOutput{
		State:       core.StateIntegrityUnavailable,
		Unavailable: &core.Unavailability{Reason: core.ReasonNoPLRoot},
	}, 1, time.Millisecond)
	fde.RecordEpoch(&core.EpochOutput{
		State:            core.StateExcluded,
		Excluded:         []model.SatelliteID{"GPS07"},
		ProtectionLevels: &core.ProtectionLevels{Vertical: 20, Horizontal: 11},
	}, 1, time.Millisecond)

	if got := testutil.ToFloat64(fde.Unavailable.WithLabelValues("no_pl_root")); got != 1 {
		t.Fatalf("unavailable{no_pl_root} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fde.Epochs.WithLabelValues("excluded")); got != 1 {
		t.Fatalf("epochs{excluded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fde.Exclusions); got != 1 {
		t.Fatalf("exclusions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fde.ProtectionLevel.WithLabelValues("vertical")); got != 20 {
		t.Fatalf("vertical PL gauge = %v, want 20", got)
	}
	if count := histogramSampleCount(t, reg, "araim_epoch_duration_seconds", nil); count != 2 {
		t.Fatalf("epoch duration samples = %d, want 2", count)
	}
}

func TestCollectorsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewFDECollector(reg)
	if err != nil {
		t.Fatalf("NewFDECollector: %v", err)
	}
	second, err := NewFDECollector(reg)
	if err != nil {
		t.Fatalf("second NewFDECollector: %v", err)
	}
	first.IncSuperseded()
	second.IncSuperseded()
	if got := testutil.ToFloat64(first.Superseded); got != 2 {
		t.Fatalf("superseded = %v, want 2 from a shared collector", got)
	}

	var nilCollector *FDECollector
	nilCollector.RecordEpoch(&core.EpochOutput{}, 0, 0)
	nilCollector.ObserveFeedMessage(true)
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestSplitMethod(t *testing.T) {
	for in, want := range map[string][2]string{
		"/araim.v1.MonitorService/GetStatus": {"MonitorService", "GetStatus"},
		"grpc.health.v1.Health/Check":        {"Health", "Check"},
		"/Bare/":                             {"Bare", "unknown"},
		"":                                   {"unknown", "unknown"},
		"nomethod":                           {"unknown", "unknown"},
	} {
		if s, m := SplitMethod(in); s != want[0] || m != want[1] {
			t.Errorf("SplitMethod(%q) = %q, %q; want %q, %q", in, s, m, want[0], want[1])
		}
	}
}

func TestObserveCommitLabelsResult(t *testing.T) {
	c, err := NewFDECollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewFDECollector: %v", err)
	}
	c.ObserveCommit(nil)
	c.ObserveCommit(core.ErrStaleEpoch)
	c.ObserveCommit(context.DeadlineExceeded)
	for label, want := range map[string]float64{"committed": 1, "stale": 1, "error": 1} {
		if got := testutil.ToFloat64(c.StoreCommits.WithLabelValues(label)); got != want {
			t.Fatalf("%s commits = %v, want %v", label, got, want)
		}
	}
	var nilCollector *FDECollector
	nilCollector.ObserveCommit(nil)
}
