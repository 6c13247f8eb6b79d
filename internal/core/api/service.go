// Package api provides the collector-facing gRPC service for cascade.
//
// Messages are google.protobuf.Struct so collectors need no generated stubs;
// the service descriptor is written out by hand below.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/pipeline"
	"github.com/solatis/cascade/internal/metrics"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cascade.v1.Collector"

// Full method names, as seen by interceptors.
const (
	SubmitEventMethod  = "/" + ServiceName + "/SubmitEvent"
	ProcessEventMethod = "/" + ServiceName + "/ProcessEvent"
	ReloadRulesMethod  = "/" + ServiceName + "/ReloadRules"
)

// CollectorServer is the server API for the Collector service.
type CollectorServer interface {
	SubmitEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReloadRules(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Reloader republishes the rule set.
type Reloader interface {
	Reload(ctx context.Context) (uint64, error)
}

// CollectorService implements CollectorServer on top of the pipeline.
type CollectorService struct {
	pipeline *pipeline.Pipeline
	reloader Reloader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCollectorService creates the service. reloader and m may be nil.
func NewCollectorService(p *pipeline.Pipeline, reloader Reloader, m *metrics.Metrics, logger *slog.Logger) (*CollectorService, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectorService{pipeline: p, reloader: reloader, metrics: m, logger: logger}, nil
}

// Register attaches the service to s.
func (s *CollectorService) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&CollectorServiceDesc, s)
}

// SubmitEvent queues the event and returns its id without waiting.
func (s *CollectorService) SubmitEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ev, err := parseRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	s.received()

	if err := s.pipeline.Submit(ev.event); err != nil {
		s.logger.Warn("event rejected",
			"event_id", ev.event.ID, "collector", auth.CollectorFromContext(ctx), "error", err)
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"event_id": string(ev.event.ID),
		"accepted": true,
	})
}

// ProcessEvent runs the event inline and returns the audit trail. With
// skip_actions set nothing is dispatched.
func (s *CollectorService) ProcessEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ev, err := parseRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	s.received()

	res, err := s.pipeline.Process(ctx, ev.event, pipeline.Options{SkipActions: ev.skipActions})
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := resultToStruct(res)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// ReloadRules reloads the configured rule source. A rejected rule set
// leaves the current generation in place and returns FAILED_PRECONDITION.
func (s *CollectorService) ReloadRules(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.reloader == nil {
		return nil, status.Error(codes.Unimplemented, "rule reload not configured")
	}
	gen, err := s.reloader.Reload(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("rules reloaded via api",
		"generation", gen, "collector", auth.CollectorFromContext(ctx))
	return structpb.NewStruct(map[string]any{
		"generation": gen,
		"rules":      s.pipeline.Engine().RuleSet().Len(),
	})
}

func (s *CollectorService) received() {
	if s.metrics != nil {
		s.metrics.IncReceived("grpc")
	}
}

// CollectorServiceDesc is the grpc.ServiceDesc for the Collector service.
var CollectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitEvent", Handler: submitEventHandler},
		{MethodName: "ProcessEvent", Handler: processEventHandler},
		{MethodName: "ReloadRules", Handler: reloadRulesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cascade/v1/collector.proto",
}

func submitEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).SubmitEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitEventMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CollectorServer).SubmitEvent(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func processEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).ProcessEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProcessEventMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CollectorServer).ProcessEvent(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reloadRulesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).ReloadRules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReloadRulesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CollectorServer).ReloadRules(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// CollectorClient is the client API for the Collector service.
type CollectorClient struct {
	cc grpc.ClientConnInterface
}

// NewCollectorClient wraps a connection.
func NewCollectorClient(cc grpc.ClientConnInterface) *CollectorClient {
	return &CollectorClient{cc: cc}
}

func (c *CollectorClient) SubmitEvent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitEventMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CollectorClient) ProcessEvent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ProcessEventMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CollectorClient) ReloadRules(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ReloadRulesMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
