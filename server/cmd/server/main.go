package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/obsidianstack/pagescore/pkg/rpc"
	"github.com/obsidianstack/pagescore/server/internal/alerts"
	"github.com/obsidianstack/pagescore/server/internal/api"
	"github.com/obsidianstack/pagescore/server/internal/auth"
	"github.com/obsidianstack/pagescore/server/internal/config"
	"github.com/obsidianstack/pagescore/server/internal/metrics"
	"github.com/obsidianstack/pagescore/server/internal/receiver"
	"github.com/obsidianstack/pagescore/server/internal/store"
	"github.com/obsidianstack/pagescore/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var logLevel = new(slog.LevelVar)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory; leave empty to disable")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *uiDir); err != nil {
		slog.Error("pagescore-server failed", "err", err)
		os.Exit(1)
	}
}

// server bundles the components shared by the gRPC and HTTP listeners.
type server struct {
	cfg     config.ServerConfig
	store   *store.Store
	metrics *metrics.Metrics
	alerts  *alerts.Engine
	hub     *ws.Hub
	grpc    *grpc.Server
}

func newServer(cfg config.ServerConfig) (*server, error) {
	st := store.New(cfg.Store.TTL, cfg.Store.MaxReports)

	m := metrics.New()
	m.GaugeFunc("stored_reports", "Reports currently held in the store.", func() float64 {
		return float64(st.Count())
	})

	alertEngine, err := alerts.New(cfg.Alerts, m)
	if err != nil {
		return nil, err
	}

	hub := ws.New(st, cfg.Stream.SummaryInterval, m.StreamClients)

	interceptor := auth.APIKeyInterceptor(
		cfg.Auth.Mode,
		cfg.Auth.EffectiveHeader(),
		cfg.Auth.Key(),
		m.AuthFailures,
	)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	rpc.RegisterReportServiceServer(grpcSrv, receiver.New(st, m, alertEngine.Evaluate, hub.Publish))

	return &server{
		cfg:     cfg,
		store:   st,
		metrics: m,
		alerts:  alertEngine,
		hub:     hub,
		grpc:    grpcSrv,
	}, nil
}

// httpHandler mounts the REST API, the websocket stream and the metrics
// endpoint. The API shares the gRPC key; health stays open for probes.
func (s *server) httpHandler(uiDir string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", auth.HTTPMiddleware(
		s.cfg.Auth.Mode,
		s.cfg.Auth.EffectiveHeader(),
		s.cfg.Auth.Key(),
		api.New(s.store, s.alerts),
		"/api/v1/health",
	))
	mux.Handle("/ws/stream", s.hub)
	mux.Handle("/metrics", s.metrics.Handler())

	if uiDir != "" {
		files := http.FileServer(http.Dir(uiDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			// Unknown paths get index.html so client-side routes resolve.
			path := filepath.Join(uiDir, filepath.FromSlash(r.URL.Path))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(uiDir, "index.html"))
				return
			}
			files.ServeHTTP(w, r)
		})
		slog.Info("serving dashboard static files", "dir", uiDir)
	}
	return mux
}

func run(ctx context.Context, configPath, uiDir string) error {
	slog.Info("pagescore-server starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sc := cfg.Server
	if err := logLevel.UnmarshalText([]byte(sc.LogLevel)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}

	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"report_ttl", sc.Store.TTL,
		"max_reports", sc.Store.MaxReports,
		"alert_rules", len(sc.Alerts.Rules),
	)

	srv, err := newServer(sc)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", sc.GRPCPort, err)
	}

	go srv.store.Run(ctx)
	go srv.hub.Run(ctx)

	go func() {
		slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
		if err := srv.grpc.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           srv.httpHandler(uiDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pagescore-server shutting down")
	srv.grpc.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	srv.alerts.Wait()
	return nil
}
