package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/pagescore/pkg/rpc"
	"github.com/obsidianstack/pagescore/pkg/types"
	"github.com/obsidianstack/pagescore/server/internal/metrics"
	"github.com/obsidianstack/pagescore/server/internal/store"
)

// Listener is called with every newly stored report.
type Listener func(*types.Report)

// Receiver implements rpc.ReportServiceServer.
// It validates each incoming report, stores it, and notifies listeners.
type Receiver struct {
	rpc.UnimplementedReportServiceServer
	store     *store.Store
	metrics   *metrics.Metrics
	listeners []Listener
}

// New creates a Receiver that writes accepted reports to st and then calls
// each listener in order.
func New(st *store.Store, m *metrics.Metrics, listeners ...Listener) *Receiver {
	return &Receiver{store: st, metrics: m, listeners: listeners}
}

// SendReport is the unary RPC handler called by pagescore-agent instances.
// Authentication is enforced by the gRPC server interceptor before this is
// called. Resending a report with a stored ID is acknowledged without
// storing it again.
func (r *Receiver) SendReport(ctx context.Context, req *rpc.SendReportRequest) (*rpc.SendReportResponse, error) {
	if err := validate(req); err != nil {
		r.metrics.ReportsReceived.WithLabelValues("rejected").Inc()
		slog.Debug("receiver: report rejected", "agent_id", req.AgentID, "err", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rep := req.Report
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.AgentID == "" {
		rep.AgentID = req.AgentID
	}

	if _, added := r.store.Put(rep); !added {
		r.metrics.ReportsReceived.WithLabelValues("duplicate").Inc()
		return &rpc.SendReportResponse{Ok: true, ID: rep.ID, Message: "duplicate"}, nil
	}
	r.metrics.ReportsReceived.WithLabelValues("accepted").Inc()
	for _, res := range rep.Results {
		if res.Failed() {
			r.metrics.MetricFailures.WithLabelValues(res.ID, string(res.Error.Kind)).Inc()
		}
	}

	for _, l := range r.listeners {
		l(rep)
	}

	slog.Debug("receiver: report stored",
		"id", rep.ID,
		"agent_id", rep.AgentID,
		"url", rep.URL,
		"results", len(rep.Results),
	)

	return &rpc.SendReportResponse{Ok: true, ID: rep.ID}, nil
}

func validate(req *rpc.SendReportRequest) error {
	if req.Report == nil {
		return errors.New("report is required")
	}
	rep := req.Report
	if rep.URL == "" {
		return errors.New("report url is required")
	}
	if len(rep.Results) == 0 {
		return errors.New("report has no results")
	}
	for _, res := range rep.Results {
		if !types.IsKnownMetric(res.ID) {
			return fmt.Errorf("unknown metric %q", res.ID)
		}
	}
	return nil
}
