package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"algotrader/internal/store"
	"algotrader/pkg/algotrader"
)

// BacktestServiceName is the fully-qualified gRPC service name.
const BacktestServiceName = "algotrader.v1.BacktestService"

const (
	methodListRuns    = "/" + BacktestServiceName + "/ListRuns"
	methodGetRun      = "/" + BacktestServiceName + "/GetRun"
	methodRunBacktest = "/" + BacktestServiceName + "/RunBacktest"
)

// BacktestServer is the server API for BacktestService. Messages are
// google.protobuf.Struct values carrying the JSON forms defined in
// pkg/algotrader.
type BacktestServer interface {
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// BacktestServiceDesc describes BacktestService for grpc.Server.RegisterService.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRuns", Handler: unaryHandler(methodListRuns, BacktestServer.ListRuns)},
		{MethodName: "GetRun", Handler: unaryHandler(methodGetRun, BacktestServer.GetRun)},
		{MethodName: "RunBacktest", Handler: unaryHandler(methodRunBacktest, BacktestServer.RunBacktest)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "algotrader/v1/backtest.proto",
}

// RegisterBacktestServer registers srv on s.
func RegisterBacktestServer(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&BacktestServiceDesc, srv)
}

type unaryMethod func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ---------------------------------------------------------------------------
// Server implementation
// ---------------------------------------------------------------------------

var _ BacktestServer = (*BacktestService)(nil)

// BacktestService implements BacktestServer on top of a Service.
type BacktestService struct {
	svc *Service
}

// NewBacktestService creates a BacktestService backed by svc.
func NewBacktestService(svc *Service) *BacktestService {
	return &BacktestService{svc: svc}
}

type listRunsRequest struct {
	Strategy string `json:"strategy"`
	Limit    int    `json:"limit"`
}

type getRunRequest struct {
	ID string `json:"id"`
}

// ListRuns accepts {strategy, limit} and returns {runs: [...]}.
func (b *BacktestService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRunsRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be non-negative")
	}
	runs, err := b.svc.ListRuns(ctx, store.RunFilter{Strategy: req.Strategy, Limit: req.Limit})
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(algotrader.RunsResponse{Runs: runs})
}

// GetRun accepts {id} and returns the run.
func (b *BacktestService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req getRunRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := b.svc.GetRun(ctx, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(run)
}

// RunBacktest accepts a BacktestRequest and returns the saved run.
func (b *BacktestService) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req algotrader.BacktestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	run, err := b.svc.RunBacktest(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(run)
}

func grpcError(err error) error {
	switch classify(err) {
	case kindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case kindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case kindCancelled:
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// toStruct converts a JSON-tagged value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into a JSON-tagged value. A nil Struct leaves
// v unchanged.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestClient is a typed client for BacktestService.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient wraps a gRPC connection.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

// ListRuns lists runs, newest first.
func (c *BacktestClient) ListRuns(ctx context.Context, strategy string, limit int) ([]algotrader.Run, error) {
	var resp algotrader.RunsResponse
	if err := c.invoke(ctx, methodListRuns, listRunsRequest{Strategy: strategy, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun returns one run.
func (c *BacktestClient) GetRun(ctx context.Context, id string) (*algotrader.Run, error) {
	var run algotrader.Run
	if err := c.invoke(ctx, methodGetRun, getRunRequest{ID: id}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunBacktest runs a backtest on the server and returns the saved run.
func (c *BacktestClient) RunBacktest(ctx context.Context, req algotrader.BacktestRequest) (*algotrader.Run, error) {
	var run algotrader.Run
	if err := c.invoke(ctx, methodRunBacktest, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *BacktestClient) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}
