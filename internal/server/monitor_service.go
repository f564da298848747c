package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/araim-monitor/core"
)

const (
	// MonitorServiceName is the gRPC service name; it is also the name
	// reported to the health service.
	MonitorServiceName = "araim.v1.MonitorService"

	getStatusMethod     = "/" + MonitorServiceName + "/GetStatus"
	getExclusionsMethod = "/" + MonitorServiceName + "/GetExclusions"
)

// MonitorServer is the read-only status API.
type MonitorServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetExclusions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// StatusBoard holds the latest published epoch.
type StatusBoard struct {
	mu      sync.RWMutex
	runID   string
	summary *core.EpochSummary
	state   *core.ExclusionState
}

// NewStatusBoard returns an empty board for runID.
func NewStatusBoard(runID string) *StatusBoard {
	return &StatusBoard{runID: runID}
}

// Publish replaces the latest epoch.
func (b *StatusBoard) Publish(summary core.EpochSummary, state *core.ExclusionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary = &summary
	b.state = state.Clone()
}

// Latest returns the last published summary and exclusion state.
func (b *StatusBoard) Latest() (core.EpochSummary, *core.ExclusionState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.summary == nil {
		return core.EpochSummary{}, nil, ErrNoEpoch
	}
	return *b.summary, b.state.Clone(), nil
}

type monitorService struct {
	board *StatusBoard
}

// NewMonitorService serves board over gRPC.
func NewMonitorService(board *StatusBoard) MonitorServer {
	return &monitorService{board: board}
}

func (s *monitorService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summary, _, err := s.board.Latest()
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := toStruct(map[string]any{"run_id": s.board.runID, "epoch": summary})
	return out, ToStatusError(err)
}

func (s *monitorService) GetExclusions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	_, state, err := s.board.Latest()
	if err != nil {
		return nil, ToStatusError(err)
	}
	records := make(map[string]any, len(state.Records))
	for id, r := range state.Records {
		records[string(id)] = map[string]any{
			"status":        r.Status.String(),
			"excluded_at":   r.ExcludedAt,
			"last_check":    r.LastCheck,
			"failed_checks": r.FailedChecks,
		}
	}
	out, err := toStruct(map[string]any{"last_epoch": state.LastEpoch, "records": records})
	return out, ToStatusError(err)
}

// toStruct round-trips v through JSON so times and slices take their JSON
// form before conversion.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return structpb.NewStruct(m)
}

// RegisterMonitorServer attaches srv to s.
func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&monitorServiceDesc, srv)
}

var monitorServiceDesc = grpc.ServiceDesc{
	ServiceName: MonitorServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unaryHandler(getStatusMethod, MonitorServer.GetStatus)},
		{MethodName: "GetExclusions", Handler: unaryHandler(getExclusionsMethod, MonitorServer.GetExclusions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "araim/v1/monitor.proto",
}

func unaryHandler(fullMethod string, call func(MonitorServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MonitorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MonitorServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MonitorClient calls the status API.
type MonitorClient struct {
	cc grpc.ClientConnInterface
}

// NewMonitorClient wraps a client connection.
func NewMonitorClient(cc grpc.ClientConnInterface) *MonitorClient {
	return &MonitorClient{cc: cc}
}

// GetStatus returns the latest epoch summary.
func (c *MonitorClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetExclusions returns the committed exclusion state.
func (c *MonitorClient) GetExclusions(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getExclusionsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
