package compute

import (
	"sort"

	"github.com/obsidianstack/pagescore/agent/internal/trace"
)

// DefaultPercentiles are the percentiles reported for input latency.
var DefaultPercentiles = []float64{0.5, 0.75, 0.9, 0.99, 1}

// RiskPercentile is the expected input queueing delay at a percentile.
type RiskPercentile struct {
	Percentile float64 `json:"percentile"`
	TimeMs     float64 `json:"time"`
}

// RiskPercentiles estimates the wait an input arriving at a uniformly random
// moment of a totalTimeMs window would see, at each of the given ascending
// percentiles. durations are the busy task lengths in the window, ascending.
func RiskPercentiles(durations []float64, totalTimeMs float64, percentiles []float64) []RiskPercentile {
	return riskPercentiles(durations, totalTimeMs, percentiles, 0)
}

// riskPercentiles sweeps the tasks smallest first. Idle time counts as
// already consumed. clippedMs is the part of one duration that lies past the
// end of the window: that task has not fully started within the window, so
// it is swept as a negative step before the first longer duration.
func riskPercentiles(durations []float64, totalTimeMs float64, percentiles []float64, clippedMs float64) []RiskPercentile {
	var busy float64
	for _, d := range durations {
		busy += d
	}
	busy -= clippedMs

	completed := totalTimeMs - busy
	duration := 0.0
	cdf := completed
	idx := -1
	remaining := len(durations) + 1
	if clippedMs > 0 {
		remaining--
	}

	out := make([]RiskPercentile, 0, len(percentiles))
	for _, p := range percentiles {
		target := p * totalTimeMs
		for cdf < target && idx < len(durations)-1 {
			completed += duration
			if duration < 0 {
				remaining++
			} else {
				remaining--
			}

			if clippedMs > 0 && clippedMs < durations[idx+1] {
				duration = -clippedMs
				clippedMs = 0
			} else {
				idx++
				duration = durations[idx]
			}
			cdf = completed + abs(duration)*float64(remaining)
		}

		wait := (target - completed) / float64(remaining)
		if wait < 0 {
			wait = 0
		}
		out = append(out, RiskPercentile{Percentile: p, TimeMs: wait})
	}
	return out
}

// WindowedDurations clips tasks to [startMs, endMs]. Tasks entirely outside
// are dropped and the head of a task straddling startMs is cut off. For a task
// running past endMs the full (head-clipped) length is kept and the overhang
// is returned as clippedMs. Durations are sorted ascending.
func WindowedDurations(tasks []trace.Task, startMs, endMs float64) (durations []float64, clippedMs float64) {
	for _, t := range tasks {
		if t.EndMs <= startMs || t.StartMs >= endMs {
			continue
		}
		d := t.DurationMs
		s := t.StartMs
		if s < startMs {
			s = startMs
			d = t.EndMs - s
		}
		if t.EndMs > endMs {
			clippedMs = d - (endMs - s)
		}
		durations = append(durations, d)
	}
	sort.Float64s(durations)
	return durations, clippedMs
}

// WindowedRiskPercentiles computes risk percentiles for the tasks falling in
// [startMs, endMs].
func WindowedRiskPercentiles(tasks []trace.Task, startMs, endMs float64, percentiles []float64) []RiskPercentile {
	ps := append([]float64(nil), percentiles...)
	sort.Float64s(ps)
	durations, clipped := WindowedDurations(tasks, startMs, endMs)
	return riskPercentiles(durations, endMs-startMs, ps, clipped)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
