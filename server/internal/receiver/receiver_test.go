package receiver_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/pagescore/pkg/rpc"
	"github.com/obsidianstack/pagescore/pkg/types"
	"github.com/obsidianstack/pagescore/server/internal/auth"
	"github.com/obsidianstack/pagescore/server/internal/metrics"
	"github.com/obsidianstack/pagescore/server/internal/receiver"
	"github.com/obsidianstack/pagescore/server/internal/store"
)

// startServer starts a gRPC server with the given interceptor and returns a
// connected client. Uses a random TCP port.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor, listeners ...receiver.Listener) (rpc.ReportServiceClient, *store.Store) {
	t.Helper()

	st := store.New(5*time.Minute, 0)
	rec := receiver.New(st, metrics.New(), listeners...)

	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	rpc.RegisterReportServiceServer(srv, rec)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return rpc.NewReportServiceClient(conn), st
}

// allowAll is a no-op interceptor that passes every call through.
func allowAll(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return handler(ctx, req)
}

func report(id, url string) *types.Report {
	score := 92
	return &types.Report{
		ID:  id,
		URL: url,
		Results: []types.Result{
			{ID: types.MetricFirstInteractive, RawValue: 3200.0, Score: &score, DisplayValue: "3,200 ms"},
			types.FailedResult(types.MetricTimeToInteractive, types.Errorf(types.KindTraceBusy, "busy")),
		},
	}
}

func send(t *testing.T, client rpc.ReportServiceClient, ctx context.Context, rep *types.Report) (*rpc.SendReportResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.SendReport(ctx, &rpc.SendReportRequest{AgentID: "agent-1", Report: rep})
}

func TestSendReport_StoresReport(t *testing.T) {
	client, st := startServer(t, allowAll)

	resp, err := send(t, client, context.Background(), report("r-1", "https://example.com/"))
	if err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	if !resp.Ok || resp.ID != "r-1" {
		t.Errorf("response: got %+v, want ok with id r-1", resp)
	}

	e, ok := st.Get("r-1")
	if !ok {
		t.Fatal("store.Get: expected entry, got none")
	}
	if e.Report.AgentID != "agent-1" {
		t.Errorf("AgentID: got %q, want agent-1", e.Report.AgentID)
	}
	res, _ := e.Report.Result(types.MetricFirstInteractive)
	if v, _ := res.Numeric(); v != 3200 {
		t.Errorf("first-interactive: got %v, want 3200", v)
	}
	tti, _ := e.Report.Result(types.MetricTimeToInteractive)
	if !tti.Failed() || tti.Error.Kind != types.KindTraceBusy {
		t.Errorf("time-to-interactive: got %+v, want trace_busy failure", tti)
	}
}

func TestSendReport_AssignsID(t *testing.T) {
	client, st := startServer(t, allowAll)

	resp, err := send(t, client, context.Background(), report("", "https://example.com/"))
	if err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected an assigned ID")
	}
	if _, ok := st.Get(resp.ID); !ok {
		t.Errorf("store.Get(%q): not found", resp.ID)
	}
}

func TestSendReport_InvalidArgument(t *testing.T) {
	client, st := startServer(t, allowAll)

	noResults := report("a", "https://example.com/")
	noResults.Results = nil
	unknown := report("b", "https://example.com/")
	unknown.Results = append(unknown.Results, types.Result{ID: "speed-index", RawValue: 1.0})

	cases := map[string]*types.Report{
		"nil report":     nil,
		"missing url":    report("c", ""),
		"no results":     noResults,
		"unknown metric": unknown,
	}
	for name, rep := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := send(t, client, context.Background(), rep)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if code := status.Code(err); code != codes.InvalidArgument {
				t.Errorf("code: got %v, want InvalidArgument", code)
			}
		})
	}
	if n := st.Count(); n != 0 {
		t.Errorf("store.Count: got %d, want 0", n)
	}
}

func TestSendReport_DuplicateAcknowledged(t *testing.T) {
	var (
		mu       sync.Mutex
		notified int
	)
	client, st := startServer(t, allowAll, func(*types.Report) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		resp, err := send(t, client, context.Background(), report("same", "https://example.com/"))
		if err != nil {
			t.Fatalf("SendReport %d: %v", i, err)
		}
		if !resp.Ok {
			t.Errorf("SendReport %d: not ok", i)
		}
	}
	if st.Count() != 1 {
		t.Errorf("store.Count: got %d, want 1", st.Count())
	}
	mu.Lock()
	defer mu.Unlock()
	if notified != 1 {
		t.Errorf("listener calls: got %d, want 1", notified)
	}
}

func TestSendReport_ListenersInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) receiver.Listener {
		return func(r *types.Report) {
			mu.Lock()
			order = append(order, name+":"+r.ID)
			mu.Unlock()
		}
	}
	client, _ := startServer(t, allowAll, record("alerts"), record("hub"))

	if _, err := send(t, client, context.Background(), report("r", "https://example.com/")); err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "alerts:r" || order[1] != "hub:r" {
		t.Errorf("listener order: got %v", order)
	}
}

func TestSendReport_WithAPIKeyInterceptor_CorrectKey_Passes(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey", nil)
	client, st := startServer(t, i)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "testkey")
	if _, err := send(t, client, ctx, report("r", "https://example.com/")); err != nil {
		t.Fatalf("SendReport with correct key: %v", err)
	}
	if st.Count() != 1 {
		t.Errorf("store.Count: got %d, want 1", st.Count())
	}
}

func TestSendReport_WithAPIKeyInterceptor_Rejected(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey", nil)
	client, st := startServer(t, i)

	for name, ctx := range map[string]context.Context{
		"wrong key":   metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "wrongkey"),
		"missing key": context.Background(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := send(t, client, ctx, report("r", "https://example.com/"))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if code := status.Code(err); code != codes.Unauthenticated {
				t.Errorf("code: got %v, want Unauthenticated", code)
			}
		})
	}
	if st.Count() != 0 {
		t.Errorf("store.Count: got %d, want 0", st.Count())
	}
}
