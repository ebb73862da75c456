package compute

import (
	"math"

	"github.com/obsidianstack/pagescore/agent/internal/trace"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// Quiet-window parameters, in milliseconds.
const (
	maxClusterDurationMs   = 250
	minClusterPaddingMs    = 1000
	minClusterPaintDistMs  = 5000
	maxQuietWindowMs       = 5000
	traceBusyMainThreadMsg = "The main thread was busy for the entire trace recording. " +
		"First Interactive requires the main thread to be idle for several seconds."
)

// windowDecay makes the required window 3s at 15s past the paint.
var windowDecay = -math.Ln2 / 15

// RequiredWindowMs is the idle time needed after a candidate that lies
// sinceMs after the paint: 5s at the paint, 3s 15s later, tending to 1s.
func RequiredWindowMs(sinceMs float64) float64 {
	return (4*math.Exp(windowDecay*sinceMs/1000) + 1) * 1000
}

// TaskCluster is a maximal run of tasks separated by at most 1s gaps.
type TaskCluster struct {
	StartMs    float64 `json:"start"`
	EndMs      float64 `json:"end"`
	DurationMs float64 `json:"duration"`
}

// clustersInWindow groups tasks[from:] into clusters. Tasks starting up to 1s
// past windowEnd are still grouped so a cluster straddling the boundary is
// seen whole; clusters starting at or after windowEnd are dropped.
func clustersInWindow(tasks []trace.Task, from int, windowEnd float64) []TaskCluster {
	var (
		clusters []TaskCluster
		prevEnd  = math.Inf(-1)
	)
	limit := windowEnd + minClusterPaddingMs
	for i := from; i < len(tasks); i++ {
		t := tasks[i]
		if t.StartMs >= limit {
			break
		}
		if t.StartMs-prevEnd > minClusterPaddingMs {
			clusters = append(clusters, TaskCluster{StartMs: t.StartMs})
		}
		clusters[len(clusters)-1].EndMs = t.EndMs
		prevEnd = t.EndMs
	}

	out := clusters[:0]
	for _, c := range clusters {
		if c.StartMs < windowEnd {
			c.DurationMs = c.EndMs - c.StartMs
			out = append(out, c)
		}
	}
	return out
}

// FindQuietWindow returns the first point at or after paintMs from which the
// main thread stays quiet for the required window. longTasks are the long
// tasks after the paint, sorted by start. The window must fit before
// traceEndMs, otherwise the trace is busy.
func FindQuietWindow(paintMs, traceEndMs float64, longTasks []trace.Task) (float64, error) {
	if len(longTasks) == 0 || longTasks[0].StartMs > paintMs+RequiredWindowMs(0) {
		return paintMs, nil
	}

	bad := func(c TaskCluster) bool {
		return c.StartMs < paintMs+minClusterPaintDistMs || c.DurationMs > maxClusterDurationMs
	}

	for i, t := range longTasks {
		windowStart := t.EndMs
		windowEnd := windowStart + RequiredWindowMs(windowStart-paintMs)
		if windowEnd > traceEndMs {
			return 0, types.Errorf(types.KindTraceBusy, traceBusyMainThreadMsg)
		}

		// Mid-cluster candidates are never quiet.
		if i+1 < len(longTasks) && longTasks[i+1].StartMs-windowStart <= minClusterPaddingMs {
			continue
		}

		quiet := true
		for _, c := range clustersInWindow(longTasks, i+1, windowEnd) {
			if bad(c) {
				quiet = false
				break
			}
		}
		if quiet {
			return windowStart, nil
		}
	}
	return 0, types.Errorf(types.KindTraceBusy, traceBusyMainThreadMsg)
}
