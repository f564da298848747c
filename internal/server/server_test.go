package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/observability"
	"github.com/signalsfoundry/araim-monitor/model"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func startServer(t *testing.T) (*Server, *grpc.ClientConn, *observability.RPCCollector) {
	t.Helper()
	metrics, err := observability.NewRPCCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	srv := New(NewStatusBoard("run-test"), WithRPCMetrics(metrics))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn, metrics
}

func healthOf(t *testing.T, conn *grpc.ClientConn) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: MonitorServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func TestServerBeforeFirstEpoch(t *testing.T) {
	_, conn, _ := startServer(t)
	if got := healthOf(t, conn); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("health = %v, want NOT_SERVING", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewMonitorClient(conn).GetStatus(ctx)
	if code := status.Code(err); code != codes.Unavailable {
		t.Fatalf("GetStatus code = %v (%v), want Unavailable", code, err)
	}
}

func TestServerPublishesAvailability(t *testing.T) {
	srv, conn, metrics := startServer(t)

	state := core.NewExclusionState()
	state.LastEpoch = epoch
	state.Records["GPS06"] = core.ExclusionRecord{Status: core.StatusExcludedPendingRecovery, ExcludedAt: epoch, LastCheck: epoch}
	out := &core.EpochOutput{
		Epoch:            epoch,
		State:            core.StateExcluded,
		ProtectionLevels: &core.ProtectionLevels{Vertical: 21.5, Horizontal: 13.25, EMT: 8},
		ActiveSatellites: []model.SatelliteID{"GPS01", "GPS02", "GPS03", "GPS04", "GPS05"},
		Excluded:         []model.SatelliteID{"GPS06"},
		Exclusions:       state.Records,
	}
	srv.Publish(out, state)

	if got := healthOf(t, conn); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %v, want SERVING", got)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDMetadataKey, "req-42")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := NewMonitorClient(conn)
	st, err := client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got := st.GetFields()["run_id"].GetStringValue(); got != "run-test" {
		t.Fatalf("run_id = %q", got)
	}
	ep := st.GetFields()["epoch"].GetStructValue().GetFields()
	if ep["vpl"].GetNumberValue() != 21.5 || ep["state"].GetStringValue() != core.StateExcluded.String() {
		t.Fatalf("epoch fields = %v", ep)
	}

	ex, err := client.GetExclusions(ctx)
	if err != nil {
		t.Fatalf("GetExclusions: %v", err)
	}
	rec := ex.GetFields()["records"].GetStructValue().GetFields()["GPS06"].GetStructValue().GetFields()
	if rec["status"].GetStringValue() != core.StatusExcludedPendingRecovery.String() {
		t.Fatalf("GPS06 record = %v", rec)
	}

	if got := testutil.ToFloat64(metrics.RPCRequests.WithLabelValues("MonitorService", "GetStatus", codes.OK.String())); got != 1 {
		t.Fatalf("rpc counter = %v, want 1", got)
	}

	out.ProtectionLevels = nil
	out.Unavailable = &core.Unavailability{Reason: core.ReasonNoExclusionCandidate}
	srv.Publish(out, state)
	if got := healthOf(t, conn); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("health = %v after unavailable epoch", got)
	}
}
