package compute

import (
	"math"

	"github.com/obsidianstack/pagescore/agent/internal/netlog"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
	"github.com/obsidianstack/pagescore/pkg/types"
)

const (
	ttiStepMs      = 50
	ttiWindowMs    = 500
	ttiThresholdMs = 50
	eilWindowMs    = 5000
)

// QuietWindowResult is an interactivity milestone as a timing (ms since
// navigationStart) and as an absolute trace timestamp (ms).
type QuietWindowResult struct {
	TimeMs    float64 `json:"timeInMs"`
	Timestamp float64 `json:"timestamp"`
}

// ConsistentResult is the consistently-interactive milestone with the quiet
// periods that produced it.
type ConsistentResult struct {
	QuietWindowResult
	Periods OverlapResult `json:"periods"`
}

// WindowLatency is one step of the time-to-interactive search.
type WindowLatency struct {
	StartMs   float64 `json:"startTime"`
	LatencyMs float64 `json:"estLatency"`
}

// TTIResult is the time-to-interactive milestone and the search that found it.
type TTIResult struct {
	TimeMs         float64         `json:"timeToInteractive"`
	LatencyMs      float64         `json:"expectedLatencyAtTTI"`
	FoundLatencies []WindowLatency `json:"foundLatencies"`
}

// requirePaintAndDCL returns FMP and DCL timings or a MissingMilestone error.
func requirePaintAndDCL(tab *trace.TraceOfTab) (fmp, dcl float64, err error) {
	t := tab.Timings
	switch {
	case !t.FirstMeaningfulPaint.Valid:
		return 0, 0, types.Errorf(types.KindMissingMilestone, "No firstMeaningfulPaint event in trace")
	case !t.DomContentLoaded.Valid:
		return 0, 0, types.Errorf(types.KindMissingMilestone, "No domContentLoaded event in trace")
	}
	return t.FirstMeaningfulPaint.Float64, t.DomContentLoaded.Float64, nil
}

// FirstInteractive locates the first quiet window after FMP. tasks are the
// top-level tasks relative to navigationStart. The value is never earlier than
// DOMContentLoaded.
func FirstInteractive(tab *trace.TraceOfTab, tasks []trace.Task) (QuietWindowResult, error) {
	fmp, dcl, err := requirePaintAndDCL(tab)
	if err != nil {
		return QuietWindowResult{}, err
	}
	traceEnd := tab.Timings.TraceEnd.Float64
	if traceEnd-fmp < maxQuietWindowMs {
		return QuietWindowResult{}, types.Errorf(types.KindTraceTooShort,
			"trace not at least 5 seconds longer than FMP")
	}

	var long []trace.Task
	for _, t := range tasks {
		if t.IsLong() && t.EndMs >= fmp {
			long = append(long, t)
		}
	}

	quiet, err := FindQuietWindow(fmp, traceEnd, long)
	if err != nil {
		return QuietWindowResult{}, err
	}
	v := math.Max(quiet, dcl)
	return QuietWindowResult{TimeMs: v, Timestamp: v + tab.NavigationStartMs()}, nil
}

// ConsistentlyInteractive finds the first five-second stretch where both the
// main thread and the network are quiet. The value is the later of the CPU
// quiet start, FMP and DOMContentLoaded.
func ConsistentlyInteractive(tab *trace.TraceOfTab, tasks []trace.Task, records []netlog.Record) (ConsistentResult, error) {
	fmp, _, err := requirePaintAndDCL(tab)
	if err != nil {
		return ConsistentResult{}, err
	}
	if tab.Timings.TraceEnd.Float64-fmp < maxQuietWindowMs {
		return ConsistentResult{}, types.Errorf(types.KindTraceTooShort,
			"trace not at least 5 seconds longer than FMP")
	}

	periods, err := FindOverlappingQuietPeriods(trace.LongTasks(tasks), records, tab)
	if err != nil {
		return ConsistentResult{}, err
	}

	ts := tab.Timestamps
	at := math.Max(periods.CPU.Start, math.Max(ts.FirstMeaningfulPaint.Float64, ts.DomContentLoaded.Float64))
	return ConsistentResult{
		QuietWindowResult: QuietWindowResult{TimeMs: at - ts.NavigationStart.Float64, Timestamp: at},
		Periods:           periods,
	}, nil
}

// EstimatedInputLatency computes risk percentiles over the five seconds after
// FMP, or up to the end of the trace if sooner.
func EstimatedInputLatency(tab *trace.TraceOfTab, tasks []trace.Task) ([]RiskPercentile, error) {
	t := tab.Timings
	if !t.FirstMeaningfulPaint.Valid {
		return nil, types.Errorf(types.KindMissingMilestone, "No firstMeaningfulPaint event in trace")
	}
	start := t.FirstMeaningfulPaint.Float64
	end := math.Min(start+eilWindowMs, t.TraceEnd.Float64)
	if end <= start {
		return nil, types.Errorf(types.KindTraceTooShort, "trace ends before firstMeaningfulPaint")
	}
	return WindowedRiskPercentiles(tasks, start, end, DefaultPercentiles), nil
}

// TimeToInteractive slides a 500ms window forward from FMP in 50ms steps and
// stops at the first window whose 90th percentile input latency is at most
// 50ms.
func TimeToInteractive(tab *trace.TraceOfTab, tasks []trace.Task) (TTIResult, error) {
	t := tab.Timings
	if !t.FirstMeaningfulPaint.Valid {
		return TTIResult{}, types.Errorf(types.KindMissingMilestone, "No firstMeaningfulPaint event in trace")
	}
	traceEnd := t.TraceEnd.Float64

	var res TTIResult
	start := t.FirstMeaningfulPaint.Float64 - ttiStepMs
	latency := math.Inf(1)
	for latency > ttiThresholdMs {
		start += ttiStepMs
		end := start + ttiWindowMs
		if end > traceEnd {
			return res, types.Errorf(types.KindTraceBusy, "Entire trace was found to be busy.")
		}
		latency = WindowedRiskPercentiles(tasks, start, end, []float64{0.9})[0].TimeMs
		res.FoundLatencies = append(res.FoundLatencies, WindowLatency{StartMs: start, LatencyMs: latency})
	}
	res.TimeMs = start
	res.LatencyMs = latency
	return res, nil
}
