package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/pagescore/agent/internal/config"
	"github.com/obsidianstack/pagescore/pkg/rpc"
	"github.com/obsidianstack/pagescore/pkg/types"
)

const (
	backoffInitial = time.Second
	backoffMax     = time.Minute
	sendTimeout    = 10 * time.Second
)

// errRejected marks a report the server will never accept as sent.
var errRejected = errors.New("report rejected")

// Shipper queues analyzed reports and streams them to pagescore-server.
//
// Ship never blocks: a full queue drops its oldest report. Run owns the
// connection and must be started once in its own goroutine. A report whose
// send fails transiently is held and retried first after reconnecting, so
// delivery order is preserved across outages.
type Shipper struct {
	cfg     config.AgentConfig
	buf     chan *types.Report
	held    atomic.Pointer[types.Report]
	limiter *rate.Limiter
	dialFn  dialFunc
}

// dialFunc opens the client connection. Tests swap in a bufconn dialer.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New returns a Shipper for cfg. A non-positive ShipRate disables rate
// limiting.
func New(cfg config.AgentConfig) *Shipper {
	limit := rate.Limit(cfg.ShipRate)
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Shipper{
		cfg:     cfg,
		buf:     make(chan *types.Report, max(cfg.BufferSize, 1)),
		limiter: rate.NewLimiter(limit, max(cfg.ShipBurst, 1)),
		dialFn:  defaultDial,
	}
}

// Ship queues rep for delivery.
func (s *Shipper) Ship(rep *types.Report) {
	for {
		select {
		case s.buf <- rep:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: queue full, dropped oldest report",
				"dropped", old.ID, "url", old.URL, "capacity", cap(s.buf))
		default:
		}
	}
}

// Pending reports how many reports are waiting for delivery.
func (s *Shipper) Pending() int {
	n := len(s.buf)
	if s.held.Load() != nil {
		n++
	}
	return n
}

// Run delivers queued reports until ctx is cancelled, reconnecting with
// jittered exponential backoff whenever the connection fails.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()
	for ctx.Err() == nil {
		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err == nil {
			slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)
			err = s.stream(ctx, rpc.NewReportServiceClient(conn), bo)
			conn.Close()
		}
		if ctx.Err() != nil {
			return
		}
		wait := bo.next()
		slog.Warn("shipper: server unreachable, retrying",
			"endpoint", s.cfg.ServerEndpoint, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// stream sends reports over client until a transient failure or
// cancellation. Reaching the server resets bo.
func (s *Shipper) stream(ctx context.Context, client rpc.ReportServiceClient, bo *backoff) error {
	for {
		rep := s.held.Swap(nil)
		if rep == nil {
			select {
			case <-ctx.Done():
				return nil
			case rep = <-s.buf:
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.held.Store(rep)
			return nil
		}

		err := s.send(ctx, client, rep)
		switch {
		case err == nil:
			bo.reset()
		case errors.Is(err, errRejected):
			bo.reset()
			slog.Error("shipper: report discarded", "report", rep.ID, "url", rep.URL, "err", err)
		default:
			s.held.Store(rep)
			return err
		}
	}
}

func (s *Shipper) send(ctx context.Context, client rpc.ReportServiceClient, rep *types.Report) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if auth := s.cfg.ServerAuth; auth.Mode == "apikey" && auth.KeyEnv != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.EffectiveHeader(), auth.Key())
	}

	resp, err := client.SendReport(ctx, toRequest(s.cfg.ID, rep))
	if err != nil {
		switch status.Code(err) {
		case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
			return fmt.Errorf("%w: %v", errRejected, err)
		}
		return fmt.Errorf("send %s: %w", rep.ID, err)
	}
	if !resp.Ok {
		slog.Warn("shipper: server declined report", "report", rep.ID, "message", resp.Message)
		return nil
	}
	slog.Debug("shipper: report delivered", "report", rep.ID, "stored_as", resp.ID)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff doubles up to backoffMax. Each wait is drawn from the upper half
// of the current step.
type backoff struct {
	step time.Duration
}

func newBackoff() *backoff { return &backoff{step: backoffInitial} }

func (b *backoff) next() time.Duration {
	half := b.step / 2
	d := half + rand.N(half+1)
	b.step = min(2*b.step, backoffMax)
	return d
}

func (b *backoff) reset() { b.step = backoffInitial }
