package approvalapi

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

const approvalServiceName = "walletbridge.v1.ApprovalService"

// ApprovalServiceServer 是 walletbridge.v1.ApprovalService 的服务端接口，消息均为 protobuf well-known 类型。
type ApprovalServiceServer interface {
	ListPending(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Approve(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Reject(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// RegisterApprovalServiceServer 在 gRPC server 上注册审批服务。
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

// ApprovalServiceClient 是审批服务的客户端。
type ApprovalServiceClient interface {
	ListPending(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Approve(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Reject(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type approvalServiceClient struct{ cc grpc.ClientConnInterface }

// NewApprovalServiceClient 基于连接构造客户端。
func NewApprovalServiceClient(cc grpc.ClientConnInterface) ApprovalServiceClient {
	return &approvalServiceClient{cc: cc}
}

func (c *approvalServiceClient) ListPending(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+approvalServiceName+"/ListPending", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *approvalServiceClient) Approve(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+approvalServiceName+"/Approve", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *approvalServiceClient) Reject(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+approvalServiceName+"/Reject", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func listPendingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApprovalServiceServer).ListPending(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + approvalServiceName + "/ListPending"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ApprovalServiceServer).ListPending(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func approveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApprovalServiceServer).Approve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + approvalServiceName + "/Approve"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ApprovalServiceServer).Approve(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func rejectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApprovalServiceServer).Reject(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + approvalServiceName + "/Reject"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ApprovalServiceServer).Reject(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ApprovalServiceDesc 是 walletbridge.v1.ApprovalService 的 grpc.ServiceDesc。
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: approvalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListPending", Handler: listPendingHandler},
		{MethodName: "Approve", Handler: approveHandler},
		{MethodName: "Reject", Handler: rejectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approval.proto",
}

// GRPCServer 实现 ApprovalServiceServer。
type GRPCServer struct {
	backend Backend
}

// NewGRPCServer 构造 gRPC server。
func NewGRPCServer(backend Backend) *GRPCServer {
	if backend == nil {
		panic("approval backend is required")
	}
	return &GRPCServer{backend: backend}
}

// ListPending 以 Struct 列表返回待审批动作。
func (s *GRPCServer) ListPending(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	pending := s.backend.Pending()
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(pending))}
	for _, action := range pending {
		raw, err := json.Marshal(action)
		if err != nil {
			return nil, status.Error(codes.Internal, "encode action")
		}
		item := &structpb.Struct{}
		if err := protojson.Unmarshal(raw, item); err != nil {
			return nil, status.Error(codes.Internal, "encode action")
		}
		out.Values = append(out.Values, structpb.NewStructValue(item))
	}
	return out, nil
}

// Approve 批准 actionHash 对应的动作。
func (s *GRPCServer) Approve(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "actionHash is required")
	}
	if err := s.backend.Approve(ctx, req.GetValue()); err != nil {
		return nil, s.grpcError(err)
	}
	return &emptypb.Empty{}, nil
}

// Reject 拒绝 actionHash 对应的动作。
func (s *GRPCServer) Reject(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "actionHash is required")
	}
	if err := s.backend.Reject(ctx, req.GetValue()); err != nil {
		return nil, s.grpcError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) grpcError(err error) error {
	if apiErr, ok := apierrors.FromError(err); ok {
		return status.Error(apierrors.GRPCStatus(apiErr.Code), apiErr.Error())
	}
	return status.Error(codes.Internal, "internal error")
}
