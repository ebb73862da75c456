package rpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/obsidianstack/pagescore/pkg/rpc"
	"github.com/obsidianstack/pagescore/pkg/types"
)

type echoServer struct {
	got chan *rpc.SendReportRequest
}

func (s *echoServer) SendReport(_ context.Context, req *rpc.SendReportRequest) (*rpc.SendReportResponse, error) {
	s.got <- req
	return &rpc.SendReportResponse{Ok: true, ID: req.Report.ID}, nil
}

func dial(t *testing.T, srv rpc.ReportServiceServer, opts ...grpc.ServerOption) rpc.ReportServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(opts...)
	rpc.RegisterReportServiceServer(s, srv)
	go s.Serve(lis) //nolint:errcheck
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return rpc.NewReportServiceClient(conn)
}

func TestSendReport_RoundTrip(t *testing.T) {
	srv := &echoServer{got: make(chan *rpc.SendReportRequest, 1)}
	client := dial(t, srv)

	score := 87
	rep := &types.Report{
		ID:         "r-1",
		URL:        "https://example.com/",
		AnalyzedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Results: []types.Result{
			{ID: types.MetricFirstInteractive, RawValue: 4012.5, Score: &score, DisplayValue: "4,010 ms"},
			{ID: types.MetricCriticalRequestChains, RawValue: false},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.SendReport(ctx, &rpc.SendReportRequest{AgentID: "agent-1", Report: rep})
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	assert.Equal(t, "r-1", resp.ID)

	got := <-srv.got
	assert.Equal(t, "agent-1", got.AgentID)
	require.Len(t, got.Report.Results, 2)
	v, ok := got.Report.Results[0].Numeric()
	require.True(t, ok)
	assert.Equal(t, 4012.5, v)
	assert.Equal(t, 87, *got.Report.Results[0].Score)
	assert.Equal(t, false, got.Report.Results[1].RawValue)
	assert.True(t, rep.AnalyzedAt.Equal(got.Report.AnalyzedAt))
}

func TestSendReport_InterceptorSeesMethod(t *testing.T) {
	var method string
	intercept := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method = info.FullMethod
		return nil, status.Error(codes.Unauthenticated, "nope")
	}
	client := dial(t, rpc.UnimplementedReportServiceServer{}, grpc.UnaryInterceptor(intercept))

	_, err := client.SendReport(context.Background(), &rpc.SendReportRequest{Report: &types.Report{}})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, rpc.SendReportMethod, method)
}

func TestUnimplemented(t *testing.T) {
	client := dial(t, rpc.UnimplementedReportServiceServer{})
	_, err := client.SendReport(context.Background(), &rpc.SendReportRequest{Report: &types.Report{}})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
