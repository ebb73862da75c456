package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/agent/internal/config"
	"github.com/obsidianstack/pagescore/agent/internal/shipper"
	"github.com/obsidianstack/pagescore/agent/internal/source"
)

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect bundles from the configured sources, analyze them and ship reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runAgent(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	return cmd
}

func runAgent(ctx context.Context, configPath string) error {
	setupLogging(os.Stdout, config.DefaultLogLevel)
	slog.Info("pagescore-agent starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	setupLogging(os.Stdout, cfg.Agent.LogLevel)
	slog.Info("config loaded",
		"agent_id", cfg.Agent.ID,
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"collect_interval", cfg.Agent.CollectInterval,
		"workers", cfg.Agent.Workers,
	)

	engine, err := compute.NewEngine(cfg.Agent.Scoring)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var sources []source.Source
	for _, src := range cfg.Agent.Sources {
		s, err := source.New(src)
		if err != nil {
			slog.Error("skipping source, could not build it", "source", src.ID, "err", err)
			continue
		}
		sources = append(sources, s)
		slog.Info("registered source", "id", src.ID, "type", src.Type, "path", src.Path, "endpoint", src.Endpoint)

		if cs := source.CheckCert(ctx, src); cs != nil && cs.Status != source.CertValid {
			slog.Warn("source certificate needs attention",
				"source", src.ID, "status", cs.Status, "days_left", cs.DaysLeft, "issuer", cs.Issuer)
		}
	}
	if len(sources) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}

	// Reloads apply scoring calibrations and the log level. Sources and the
	// shipper keep their startup configuration.
	go func() {
		err := config.Watch(ctx, configPath, func(updated *config.Config) {
			if err := engine.SetCalibrations(updated.Agent.Scoring); err != nil {
				slog.Error("scoring calibrations rejected", "err", err)
				return
			}
			_ = logLevel.UnmarshalText([]byte(updated.Agent.LogLevel))
			slog.Info("scoring calibrations applied", "overrides", len(updated.Agent.Scoring))
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	p := &pipeline{engine: engine, workers: cfg.Agent.Workers, sink: ship.Ship, now: time.Now}

	triggers := make(chan int, len(sources))
	for i, s := range sources {
		w, ok := s.(source.Watcher)
		if !ok {
			continue
		}
		go func() {
			err := w.Watch(ctx, func() {
				select {
				case triggers <- i:
				default:
				}
			})
			if err != nil {
				slog.Error("source watcher stopped", "source", s.ID(), "err", err)
			}
		}()
	}

	ticker := time.NewTicker(cfg.Agent.CollectInterval)
	defer ticker.Stop()

	p.collect(ctx, sources...)
	for {
		select {
		case <-ctx.Done():
			slog.Info("pagescore-agent shutting down", "pending_reports", ship.Pending())
			return nil
		case <-ticker.C:
			p.collect(ctx, sources...)
		case i := <-triggers:
			p.collect(ctx, sources[i])
		}
	}
}
