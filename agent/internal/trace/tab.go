package trace

import (
	"encoding/json"
	"math"
	"strings"

	"gopkg.in/guregu/null.v3"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Milestones holds the navigation milestones of a page load in milliseconds.
// Absent milestones are null.
type Milestones struct {
	NavigationStart      null.Float `json:"navigationStart"`
	FirstPaint           null.Float `json:"firstPaint"`
	FirstContentfulPaint null.Float `json:"firstContentfulPaint"`
	FirstMeaningfulPaint null.Float `json:"firstMeaningfulPaint"`
	DomContentLoaded     null.Float `json:"domContentLoaded"`
	Load                 null.Float `json:"onLoad"`
	TraceEnd             null.Float `json:"traceEnd"`
}

// TraceOfTab is the milestone summary of the inspected tab. Timestamps are
// absolute trace milliseconds; Timings are milliseconds since navigationStart.
type TraceOfTab struct {
	Timestamps Milestones `json:"timestamps"`
	Timings    Milestones `json:"timings"`
}

// NavigationStartMs returns the absolute navigationStart timestamp.
func (t *TraceOfTab) NavigationStartMs() float64 {
	return t.Timestamps.NavigationStart.Float64
}

// NewTraceOfTab builds a TraceOfTab from absolute timestamps, deriving the
// relative timings. navigationStart must be set.
func NewTraceOfTab(ts Milestones) (*TraceOfTab, error) {
	if !ts.NavigationStart.Valid {
		return nil, types.Errorf(types.KindMissingMilestone, "trace: no navigationStart found")
	}
	nav := ts.NavigationStart.Float64
	rel := func(v null.Float) null.Float {
		if !v.Valid {
			return null.Float{}
		}
		return null.FloatFrom(v.Float64 - nav)
	}
	return &TraceOfTab{
		Timestamps: ts,
		Timings: Milestones{
			NavigationStart:      null.FloatFrom(0),
			FirstPaint:           rel(ts.FirstPaint),
			FirstContentfulPaint: rel(ts.FirstContentfulPaint),
			FirstMeaningfulPaint: rel(ts.FirstMeaningfulPaint),
			DomContentLoaded:     rel(ts.DomContentLoaded),
			Load:                 rel(ts.Load),
			TraceEnd:             rel(ts.TraceEnd),
		},
	}, nil
}

// DecodeTraceOfTab reads an externally computed summary of the form
// {"timestamps": {...}} with absolute millisecond values.
func DecodeTraceOfTab(data []byte) (*TraceOfTab, error) {
	var raw struct {
		Timestamps Milestones `json:"timestamps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, types.Wrap(types.KindMalformedTrace, err, "trace: decode trace-of-tab")
	}
	return NewTraceOfTab(raw.Timestamps)
}

// keyEvent reports whether ev takes part in milestone detection.
func keyEvent(ev Event) bool {
	return strings.Contains(ev.Cat, "blink.user_timing") ||
		strings.Contains(ev.Cat, "loading") ||
		strings.Contains(ev.Cat, "devtools.timeline") ||
		ev.Name == startedInPageEvent
}

// ExtractTraceOfTab finds the navigation milestones of the tab that started
// tracing. Only events of the page's frame are considered. navigationStart is
// the last one before the first paint; paints and load events are the first
// ones after it. When no firstMeaningfulPaint was recorded the last
// firstMeaningfulPaintCandidate stands in.
func ExtractTraceOfTab(m *Model) (*TraceOfTab, error) {
	var key []Event
	for _, ev := range m.events {
		if ev.Ph != PhaseMetadata && keyEvent(ev) {
			key = append(key, ev)
		}
	}

	frame := ""
	for _, ev := range key {
		if ev.Name == startedInPageEvent {
			frame = ev.Args.Get("data.page").String()
			break
		}
	}
	frameEvents := key
	if frame != "" {
		frameEvents = frameEvents[:0:0]
		for _, ev := range key {
			if ev.Frame() == frame {
				frameEvents = append(frameEvents, ev)
			}
		}
	}

	first := func(name string, after float64) (Event, bool) {
		for _, ev := range frameEvents {
			if ev.Name == name && ev.Ts >= after {
				return ev, true
			}
		}
		return Event{}, false
	}
	last := func(name string, before float64) (Event, bool) {
		var (
			found Event
			ok    bool
		)
		for _, ev := range frameEvents {
			if ev.Name == name && ev.Ts < before {
				found, ok = ev, true
			}
		}
		return found, ok
	}

	var ts Milestones
	fp, hasFP := first("firstPaint", math.Inf(-1))
	limit := math.Inf(1)
	if hasFP {
		limit = fp.Ts
		ts.FirstPaint = null.FloatFrom(fp.Ts / 1000)
	}

	nav, ok := last("navigationStart", limit)
	if !ok {
		return nil, types.Errorf(types.KindMissingMilestone, "trace: no navigationStart found")
	}
	ts.NavigationStart = null.FloatFrom(nav.Ts / 1000)

	paintFloor := nav.Ts
	if hasFP {
		paintFloor = fp.Ts
	}
	if ev, ok := first("firstContentfulPaint", paintFloor); ok {
		ts.FirstContentfulPaint = null.FloatFrom(ev.Ts / 1000)
	}
	if ev, ok := first("firstMeaningfulPaint", paintFloor); ok {
		ts.FirstMeaningfulPaint = null.FloatFrom(ev.Ts / 1000)
	} else if ev, ok := last("firstMeaningfulPaintCandidate", math.Inf(1)); ok {
		ts.FirstMeaningfulPaint = null.FloatFrom(ev.Ts / 1000)
	}
	if ev, ok := first("domContentLoadedEventEnd", nav.Ts); ok {
		ts.DomContentLoaded = null.FloatFrom(ev.Ts / 1000)
	}
	if ev, ok := first("loadEventEnd", nav.Ts); ok {
		ts.Load = null.FloatFrom(ev.Ts / 1000)
	}
	ts.TraceEnd = null.FloatFrom(m.EndMs())

	return NewTraceOfTab(ts)
}
