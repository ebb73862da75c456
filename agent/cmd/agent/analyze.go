package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/agent/internal/config"
	"github.com/obsidianstack/pagescore/agent/internal/source"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
	"github.com/obsidianstack/pagescore/pkg/types"
)

type analyzeOptions struct {
	configPath string
	format     string
	workers    int
	logLevel   string
	color      string
}

func newAnalyzeCmd() *cobra.Command {
	opts := analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze trace files or bundle manifests and print the reports",
		Long: `Analyze one or more captured page loads. Each FILE is either a trace
(optionally gzip, zstd or xz compressed) or a JSON bundle manifest whose
artifacts are located with the default JSONPath expressions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.logLevel)

			var cals map[string]compute.Calibration
			if opts.configPath != "" {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				cals = cfg.Agent.Scoring
			}
			engine, err := compute.NewEngine(cals)
			if err != nil {
				return err
			}

			reports, err := analyzeFiles(cmd.Context(), engine, args, opts.workers, time.Now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colored := opts.color == "always" || (opts.color == "auto" && isTerminal(out))
			if err := writeReports(out, opts.format, reports, colored); err != nil {
				return err
			}

			failed := 0
			for _, rep := range reports {
				if rep.Error != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d bundles could not be analyzed", failed, len(reports))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "agent config file to read scoring calibrations from")
	f.StringVarP(&opts.format, "format", "f", formatText, "output format: text, json or prom")
	f.IntVarP(&opts.workers, "workers", "w", config.DefaultWorkers, "bundles analyzed in parallel")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.StringVar(&opts.color, "color", "auto", "colorize text output: auto, always or never")
	return cmd
}

// analyzeFiles loads each path as a bundle and analyzes them in parallel.
// Manifest references resolve relative to the manifest's directory.
func analyzeFiles(ctx context.Context, engine *compute.Engine, paths []string, workers int, now func() time.Time) ([]*types.Report, error) {
	m, err := source.NewManifest(config.ManifestConfig{})
	if err != nil {
		return nil, err
	}
	bundles := make([]*compute.Bundle, 0, len(paths))
	for _, p := range paths {
		data, err := trace.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		b, err := m.Bundle(data, source.DirResolver(filepath.Dir(p)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		b.Name = p
		b.SourceID = p
		b.CollectedAt = now()
		bundles = append(bundles, b)
	}
	p := &pipeline{engine: engine, workers: workers, now: now}
	return p.analyze(ctx, bundles), nil
}
