package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// keyCheck holds the shared API key policy for gRPC and HTTP.
type keyCheck struct {
	header string
	key    []byte
}

// newKeyCheck returns nil when authentication is disabled, that is when mode
// is not "apikey" or no key is configured.
func newKeyCheck(mode, header, key string) *keyCheck {
	if mode != "apikey" || key == "" {
		return nil
	}
	return &keyCheck{header: header, key: []byte(key)}
}

func (k *keyCheck) accepts(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), k.key) == 1
}

// APIKeyInterceptor returns a unary interceptor that requires the configured
// key in the header metadata entry of every call. Metadata keys arrive
// lowercased, so header should be lowercase. Rejected calls get
// codes.Unauthenticated and bump rejected when it is non-nil.
func APIKeyInterceptor(mode, header, key string, rejected prometheus.Counter) grpc.UnaryServerInterceptor {
	kc := newKeyCheck(mode, header, key)
	if kc == nil {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			return handler(ctx, req)
		}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reason := ""
		if md, ok := metadata.FromIncomingContext(ctx); !ok {
			reason = "missing metadata"
		} else if vals := md.Get(kc.header); len(vals) == 0 || !kc.accepts(vals[0]) {
			reason = "invalid api key"
		}
		if reason != "" {
			if rejected != nil {
				rejected.Inc()
			}
			slog.Warn("auth: call rejected", "method", info.FullMethod, "reason", reason)
			return nil, status.Error(codes.Unauthenticated, reason)
		}
		return handler(ctx, req)
	}
}
