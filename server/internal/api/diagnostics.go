package api

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Hint levels, most severe first.
const (
	LevelCritical = "critical"
	LevelWarning  = "warning"
	LevelInfo     = "info"
	LevelOK       = "ok"
)

// Thresholds for hints that do not come from metric scores.
const (
	inputLatencyBudgetMs = 50
	longTaskBudgetMs     = 200
	deepChainLength      = 3
)

// DiagnosticHint is one human-readable insight about a page load.
// The dashboard shows these as chips on the page card; Detail is shown on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label for the chip.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value behind the hint (e.g. milliseconds).
	Value *float64 `json:"value,omitempty"`
}

// Diagnose derives hints from a report.
// Hints are ordered critical first, then warnings, then info.
func Diagnose(rep *types.Report) []DiagnosticHint {
	if rep.Error != nil {
		return []DiagnosticHint{{
			Key:   "analysis_failed",
			Level: LevelCritical,
			Title: "Trace not analyzable",
			Detail: fmt.Sprintf(
				"The agent could not analyze this page load (%s: %s). "+
					"No metrics are available until a readable trace is captured.",
				rep.Error.Kind, rep.Error.Message),
		}}
	}

	var hints []DiagnosticHint
	for _, res := range rep.Results {
		if res.Failed() {
			hints = append(hints, failureHint(res))
			continue
		}
		if h, ok := scoreHint(res); ok {
			hints = append(hints, h)
		}
	}

	if res, ok := rep.Result(types.MetricEstimatedInputLatency); ok && !res.Failed() {
		if v, ok := res.Numeric(); ok && v > inputLatencyBudgetMs {
			hints = append(hints, DiagnosticHint{
				Key:   "input_latency",
				Level: LevelWarning,
				Title: "Sluggish input",
				Detail: fmt.Sprintf(
					"Input during the busiest five seconds after first meaningful paint would wait about %.0f ms "+
						"at the 90th percentile. Break up long script tasks so the main thread can respond within %d ms.",
					v, inputLatencyBudgetMs),
				Value: &v,
			})
		}
	}

	if s := rep.Summary; s.LongTaskCount > 0 && s.MaxTaskMs > longTaskBudgetMs {
		v := s.MaxTaskMs
		hints = append(hints, DiagnosticHint{
			Key:   "long_tasks",
			Level: LevelWarning,
			Title: "Long main-thread tasks",
			Detail: fmt.Sprintf(
				"%d of %d main-thread tasks ran longer than 50 ms; the longest took %.0f ms. "+
					"Tasks this long block rendering and input handling.",
				s.LongTaskCount, s.TaskCount, v),
			Value: &v,
		})
	}

	if res, ok := rep.Result(types.MetricCriticalRequestChains); ok && !res.Failed() {
		if longest, ok := longestChain(res); ok && longest.Length >= deepChainLength {
			v := longest.Duration
			hints = append(hints, DiagnosticHint{
				Key:   "deep_chains",
				Level: LevelInfo,
				Title: "Deep request chains",
				Detail: fmt.Sprintf(
					"The longest chain of render-critical requests is %d deep and takes %.0f ms to resolve. "+
						"Preload late-discovered resources or inline small ones to shorten it.",
					longest.Length, v),
				Value: &v,
			})
		}
	}

	if len(hints) == 0 {
		return []DiagnosticHint{{
			Key:    "all_clear",
			Level:  LevelOK,
			Title:  "Looks good",
			Detail: "Every scored metric passes and the main thread stayed responsive.",
		}}
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank(hints[i].Level) < levelRank(hints[j].Level)
	})
	return hints
}

func failureHint(res types.Result) DiagnosticHint {
	h := DiagnosticHint{Key: "failed_" + res.ID}
	switch res.Error.Kind {
	case types.KindTraceBusy:
		h.Level = LevelWarning
		h.Title = "Never settled"
		h.Detail = "The main thread or network never went quiet long enough before the trace ended. " +
			"Capture a longer trace or reduce background work after load."
	case types.KindTraceTooShort:
		h.Level = LevelInfo
		h.Title = "Trace too short"
		h.Detail = "The trace ended too soon after first meaningful paint to measure interactivity. " +
			"Record for longer after the page loads."
	case types.KindMissingMilestone:
		h.Level = LevelWarning
		h.Title = "Missing paint event"
		h.Detail = "The trace lacks a paint milestone this metric starts from. " +
			"Make sure the page actually rendered while tracing."
	default:
		h.Level = LevelCritical
		h.Title = "Metric failed"
		h.Detail = "The metric could not be computed from the captured data."
	}
	if res.Error.Message != "" {
		h.Detail += fmt.Sprintf(" (%s: %s)", res.ID, res.Error.Message)
	}
	return h
}

func scoreHint(res types.Result) (DiagnosticHint, bool) {
	if res.Score == nil {
		return DiagnosticHint{}, false
	}
	score := float64(*res.Score)
	switch types.RatingOf(*res.Score) {
	case types.RatingFail:
		return DiagnosticHint{
			Key:    "slow_" + res.ID,
			Level:  LevelCritical,
			Title:  "Slow " + res.ID,
			Detail: fmt.Sprintf("%s measured %s, scoring %d. Pages this slow lose most visitors.", res.ID, display(res), *res.Score),
			Value:  &score,
		}, true
	case types.RatingAverage:
		return DiagnosticHint{
			Key:    "average_" + res.ID,
			Level:  LevelWarning,
			Title:  "Improve " + res.ID,
			Detail: fmt.Sprintf("%s measured %s, scoring %d. It needs %d to pass.", res.ID, display(res), *res.Score, types.ThresholdPass),
			Value:  &score,
		}, true
	}
	return DiagnosticHint{}, false
}

func display(res types.Result) string {
	if res.DisplayValue != "" {
		return res.DisplayValue
	}
	if v, ok := res.Numeric(); ok {
		return fmt.Sprintf("%.0f ms", v)
	}
	return "n/a"
}

type chainSummary struct {
	Duration     float64 `json:"duration"`
	Length       int     `json:"length"`
	TransferSize float64 `json:"transferSize"`
}

// longestChain reads the longest-chain summary out of the extended info. The
// value is a struct when the report was produced in-process and a decoded map
// when it arrived over the wire, so it goes through JSON either way.
func longestChain(res types.Result) (chainSummary, bool) {
	raw, ok := res.ExtendedInfo["longestChain"]
	if !ok {
		return chainSummary{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return chainSummary{}, false
	}
	var c chainSummary
	if err := json.Unmarshal(b, &c); err != nil {
		return chainSummary{}, false
	}
	return c, true
}

func levelRank(level string) int {
	switch level {
	case LevelCritical:
		return 0
	case LevelWarning:
		return 1
	case LevelInfo:
		return 2
	default:
		return 3
	}
}
