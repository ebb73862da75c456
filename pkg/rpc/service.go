package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/pagescore/pkg/types"
)

const (
	serviceName = "pagescore.v1.ReportService"

	// SendReportMethod is the full method name, as seen by interceptors.
	SendReportMethod = "/" + serviceName + "/SendReport"
)

// SendReportRequest carries one analyzed report from an agent.
type SendReportRequest struct {
	AgentID string        `json:"agent_id"`
	Report  *types.Report `json:"report"`
}

// SendReportResponse acknowledges a report.
type SendReportResponse struct {
	Ok      bool   `json:"ok"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReportServiceServer is implemented by the server-side receiver.
type ReportServiceServer interface {
	SendReport(context.Context, *SendReportRequest) (*SendReportResponse, error)
}

// UnimplementedReportServiceServer can be embedded for forward compatibility.
type UnimplementedReportServiceServer struct{}

func (UnimplementedReportServiceServer) SendReport(context.Context, *SendReportRequest) (*SendReportResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SendReport not implemented")
}

// RegisterReportServiceServer registers srv on s.
func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func sendReportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).SendReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendReportMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServiceServer).SendReport(ctx, req.(*SendReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendReport", Handler: sendReportHandler},
	},
	Metadata: "pagescore/v1/report.proto",
}

// ReportServiceClient is the agent-side stub.
type ReportServiceClient interface {
	SendReport(ctx context.Context, in *SendReportRequest, opts ...grpc.CallOption) (*SendReportResponse, error)
}

type reportServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReportServiceClient returns a client that always uses the JSON codec.
func NewReportServiceClient(cc grpc.ClientConnInterface) ReportServiceClient {
	return &reportServiceClient{cc: cc}
}

func (c *reportServiceClient) SendReport(ctx context.Context, in *SendReportRequest, opts ...grpc.CallOption) (*SendReportResponse, error) {
	out := new(SendReportResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SendReportMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
