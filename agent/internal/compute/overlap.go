package compute

import (
	"sort"

	"github.com/obsidianstack/pagescore/agent/internal/netlog"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
	"github.com/obsidianstack/pagescore/pkg/types"
)

const (
	requiredQuietMs          = 5000
	allowedConcurrentRequest = 2
)

// Culprits named when no overlapping quiet period exists.
const (
	CulpritNetwork    = "Network"
	CulpritMainThread = "Main thread"
)

// ignoredSchemes never count as in-flight network activity.
var ignoredSchemes = map[string]bool{"data": true, "ws": true}

// Interval is a closed time range in milliseconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Len returns End - Start.
func (iv Interval) Len() float64 { return iv.End - iv.Start }

// OverlapResult is the matched pair of quiet periods plus the candidate lists
// they were drawn from.
type OverlapResult struct {
	CPU            Interval   `json:"cpuQuietPeriod"`
	Network        Interval   `json:"networkQuietPeriod"`
	CPUPeriods     []Interval `json:"cpuQuietPeriods"`
	NetworkPeriods []Interval `json:"networkQuietPeriods"`
}

type boundary struct {
	t     float64
	start bool
}

// NetworkQuietPeriods returns the absolute ranges during which at most two
// requests were in flight. A range still open at the end extends to
// traceEndMs.
func NetworkQuietPeriods(records []netlog.Record, traceEndMs float64) []Interval {
	var bounds []boundary
	for _, r := range records {
		if ignoredSchemes[r.Scheme] {
			continue
		}
		bounds = append(bounds, boundary{t: r.StartMs, start: true})
		if r.Finished {
			bounds = append(bounds, boundary{t: r.EndMs})
		}
	}
	sort.SliceStable(bounds, func(i, j int) bool { return bounds[i].t < bounds[j].t })

	var (
		periods  []Interval
		inflight int
		quietAt  float64
	)
	for _, b := range bounds {
		if b.start {
			if inflight == allowedConcurrentRequest {
				periods = append(periods, Interval{Start: quietAt, End: b.t})
			}
			inflight++
			continue
		}
		inflight--
		if inflight == allowedConcurrentRequest {
			quietAt = b.t
		}
	}
	if inflight <= allowedConcurrentRequest {
		periods = append(periods, Interval{Start: quietAt, End: traceEndMs})
	}
	return periods
}

// CPUQuietPeriods returns the absolute gaps around longTasks, whose times are
// relative to navStartMs. The first gap opens at 0 and the last closes at
// traceEndMs.
func CPUQuietPeriods(longTasks []trace.Task, navStartMs, traceEndMs float64) []Interval {
	if len(longTasks) == 0 {
		return []Interval{{Start: 0, End: traceEndMs}}
	}
	periods := make([]Interval, 0, len(longTasks)+1)
	periods = append(periods, Interval{Start: 0, End: longTasks[0].StartMs + navStartMs})
	for i, t := range longTasks {
		end := traceEndMs
		if i+1 < len(longTasks) {
			end = longTasks[i+1].StartMs + navStartMs
		}
		periods = append(periods, Interval{Start: t.EndMs + navStartMs, End: end})
	}
	return periods
}

// FindOverlappingQuietPeriods finds the earliest CPU and network quiet
// periods that overlap by at least five seconds. Only periods lasting five
// seconds and ending five seconds or more past FMP are considered. Whichever
// of the pair starts later must leave five seconds of room inside the other.
func FindOverlappingQuietPeriods(longTasks []trace.Task, records []netlog.Record, tab *trace.TraceOfTab) (OverlapResult, error) {
	ts := tab.Timestamps
	fmp := ts.FirstMeaningfulPaint.Float64
	traceEnd := ts.TraceEnd.Float64

	longEnough := func(periods []Interval) []Interval {
		var out []Interval
		for _, p := range periods {
			if p.End >= fmp+requiredQuietMs && p.Len() >= requiredQuietMs {
				out = append(out, p)
			}
		}
		return out
	}
	res := OverlapResult{
		NetworkPeriods: longEnough(NetworkQuietPeriods(records, traceEnd)),
		CPUPeriods:     longEnough(CPUQuietPeriods(longTasks, ts.NavigationStart.Float64, traceEnd)),
	}

	ci, ni := 0, 0
	for ci < len(res.CPUPeriods) && ni < len(res.NetworkPeriods) {
		cpu, net := res.CPUPeriods[ci], res.NetworkPeriods[ni]
		if cpu.Start >= net.Start {
			if net.End >= cpu.Start+requiredQuietMs {
				res.CPU, res.Network = cpu, net
				return res, nil
			}
			ni++
			continue
		}
		if cpu.End >= net.Start+requiredQuietMs {
			res.CPU, res.Network = cpu, net
			return res, nil
		}
		ci++
	}

	culprit := CulpritMainThread
	if ci < len(res.CPUPeriods) {
		culprit = CulpritNetwork
	}
	return res, types.Errorf(types.KindTraceBusy,
		"%s activity continued through the end of the trace recording. "+
			"Consistently Interactive requires a minimum of 5 seconds of both main thread idle and network idle.",
		culprit)
}
