package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/agent/internal/source"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// pipeline analyzes collected bundles on a bounded worker pool and hands
// each report to sink.
type pipeline struct {
	engine  *compute.Engine
	workers int
	sink    func(*types.Report)
	now     func() time.Time
}

// collect pulls new bundles from each source, analyzes them and gives every
// report a fresh ID before it reaches sink.
func (p *pipeline) collect(ctx context.Context, sources ...source.Source) {
	for _, s := range sources {
		bundles, err := s.Collect(ctx)
		if err != nil {
			slog.Warn("collect error", "source", s.ID(), "err", err)
			continue
		}
		if len(bundles) == 0 {
			continue
		}
		reports := p.analyze(ctx, bundles)
		for _, rep := range reports {
			rep.ID = uuid.NewString()
			if rep.Error != nil {
				slog.Warn("bundle could not be analyzed",
					"source", s.ID(), "url", rep.URL, "kind", rep.Error.Kind, "err", rep.Error.Message)
			}
			p.sink(rep)
			slog.Debug("report queued", "source", s.ID(), "url", rep.URL, "id", rep.ID)
		}
		slog.Info("source collected", "source", s.ID(), "bundles", len(bundles), "reports", len(reports))
	}
}

// analyze returns one report per bundle, in bundle order. Bundles not yet
// started when ctx is cancelled are skipped. A report without a page URL is
// keyed by the bundle name.
func (p *pipeline) analyze(ctx context.Context, bundles []*compute.Bundle) []*types.Report {
	out := make([]*types.Report, len(bundles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.workers, 1))
	for i, b := range bundles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep := p.engine.Analyze(b, p.now())
			if rep.URL == "" {
				rep.URL = b.Name
			}
			out[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	reports := out[:0]
	for _, rep := range out {
		if rep != nil {
			reports = append(reports, rep)
		}
	}
	return reports
}
