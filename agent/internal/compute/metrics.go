package compute

import (
	"github.com/obsidianstack/pagescore/agent/internal/netlog"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// artifacts is a decoded bundle.
type artifacts struct {
	model *trace.Model
	tab   *trace.TraceOfTab
	// tasks are the top-level main-thread tasks relative to navigationStart.
	tasks []trace.Task

	records    []netlog.Record
	recordsErr error

	chains    *netlog.Forest
	chainsErr error
}

type metricFunc func(a *artifacts, s *Scorer) (types.Result, error)

// metricTable lists every metric in report order.
var metricTable = []struct {
	id string
	fn metricFunc
}{
	{types.MetricFirstMeaningfulPaint, firstMeaningfulPaintMetric},
	{types.MetricFirstInteractive, firstInteractiveMetric},
	{types.MetricConsistentlyInteractive, consistentlyInteractiveMetric},
	{types.MetricEstimatedInputLatency, estimatedInputLatencyMetric},
	{types.MetricTimeToInteractive, timeToInteractiveMetric},
	{types.MetricCriticalRequestChains, criticalRequestChainsMetric},
	{types.MetricUserTimings, userTimingsMetric},
}

func timingResult(id string, ms float64, s *Scorer, ext map[string]any) types.Result {
	return types.Result{
		ID:           id,
		RawValue:     ms,
		Score:        s.Score(id, ms),
		DisplayValue: FormatMilliseconds(ms, 10),
		ExtendedInfo: ext,
	}
}

func firstMeaningfulPaintMetric(a *artifacts, s *Scorer) (types.Result, error) {
	fmp := a.tab.Timings.FirstMeaningfulPaint
	if !fmp.Valid {
		return types.Result{}, types.Errorf(types.KindMissingMilestone, "No firstMeaningfulPaint event in trace")
	}
	return timingResult(types.MetricFirstMeaningfulPaint, fmp.Float64, s, map[string]any{
		"timings":    a.tab.Timings,
		"timestamps": a.tab.Timestamps,
	}), nil
}

func firstInteractiveMetric(a *artifacts, s *Scorer) (types.Result, error) {
	res, err := FirstInteractive(a.tab, a.tasks)
	if err != nil {
		return types.Result{}, err
	}
	return timingResult(types.MetricFirstInteractive, res.TimeMs, s, map[string]any{
		"timeInMs":  res.TimeMs,
		"timestamp": res.Timestamp,
	}), nil
}

func consistentlyInteractiveMetric(a *artifacts, s *Scorer) (types.Result, error) {
	if a.recordsErr != nil {
		return types.Result{}, a.recordsErr
	}
	res, err := ConsistentlyInteractive(a.tab, a.tasks, a.records)
	if err != nil {
		return types.Result{}, err
	}
	return timingResult(types.MetricConsistentlyInteractive, res.TimeMs, s, map[string]any{
		"timeInMs":            res.TimeMs,
		"timestamp":           res.Timestamp,
		"cpuQuietPeriod":      res.Periods.CPU,
		"networkQuietPeriod":  res.Periods.Network,
		"cpuQuietPeriods":     res.Periods.CPUPeriods,
		"networkQuietPeriods": res.Periods.NetworkPeriods,
		"networkRecords":      len(a.records),
	}), nil
}

func estimatedInputLatencyMetric(a *artifacts, s *Scorer) (types.Result, error) {
	percentiles, err := EstimatedInputLatency(a.tab, a.tasks)
	if err != nil {
		return types.Result{}, err
	}
	var p90 float64
	for _, p := range percentiles {
		if p.Percentile == 0.9 {
			p90 = p.TimeMs
		}
	}
	raw := roundTo(p90, 1)
	return types.Result{
		ID:           types.MetricEstimatedInputLatency,
		RawValue:     raw,
		Score:        s.Score(types.MetricEstimatedInputLatency, p90),
		DisplayValue: FormatMilliseconds(raw, 0.1),
		ExtendedInfo: map[string]any{"percentiles": percentiles},
	}, nil
}

func timeToInteractiveMetric(a *artifacts, s *Scorer) (types.Result, error) {
	res, err := TimeToInteractive(a.tab, a.tasks)
	if err != nil {
		return types.Result{}, err
	}
	raw := roundTo(res.TimeMs, 1)
	return types.Result{
		ID:           types.MetricTimeToInteractive,
		RawValue:     raw,
		Score:        s.Score(types.MetricTimeToInteractive, res.TimeMs),
		DisplayValue: FormatMilliseconds(raw, 0.1),
		ExtendedInfo: map[string]any{
			"timeToInteractive":    res.TimeMs,
			"expectedLatencyAtTTI": roundTo(res.LatencyMs, 3),
			"foundLatencies":       res.FoundLatencies,
		},
	}, nil
}

func criticalRequestChainsMetric(a *artifacts, _ *Scorer) (types.Result, error) {
	if a.chainsErr != nil {
		return types.Result{}, a.chainsErr
	}
	count := CountChains(a.chains)
	return types.Result{
		ID:           types.MetricCriticalRequestChains,
		RawValue:     count == 0,
		DisplayValue: FormatCount(count),
		ExtendedInfo: map[string]any{
			"chainCount":   count,
			"longestChain": LongestChain(a.chains),
			"chains":       a.chains,
		},
	}, nil
}

func userTimingsMetric(a *artifacts, _ *Scorer) (types.Result, error) {
	timings := trace.UserTimings(a.model, a.tab.NavigationStartMs())
	return types.Result{
		ID:           types.MetricUserTimings,
		RawValue:     float64(len(timings)),
		DisplayValue: FormatCount(len(timings)),
		ExtendedInfo: map[string]any{"userTimings": timings},
	}, nil
}
