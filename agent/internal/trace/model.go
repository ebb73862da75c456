package trace

import (
	"math"
	"sort"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// LongTaskMs is the duration at which a top-level task counts as long.
const LongTaskMs = 50

const (
	startedInPageEvent = "TracingStartedInPage"
	threadNameEvent    = "thread_name"
	rendererMainThread = "CrRendererMain"
)

// Task is a top-level main-thread slice in milliseconds relative to an origin.
type Task struct {
	StartMs    float64 `json:"start"`
	EndMs      float64 `json:"end"`
	DurationMs float64 `json:"duration"`
}

// IsLong reports whether the task is at least LongTaskMs long.
func (t Task) IsLong() bool { return t.DurationMs >= LongTaskMs }

// slice is a main-thread slice in microseconds.
type slice struct {
	start, end float64
}

// Model is an indexed, read-only view of a parsed trace.
type Model struct {
	events   []Event
	byThread map[ThreadID][]int
	names    map[ThreadID]string
	main     ThreadID
	startTs  float64
	endTs    float64
	topLevel []slice
}

// NewModel indexes events (sorted by ts, as returned by Parse) and locates the
// main renderer thread. A trace without an identifiable main thread is
// malformed.
func NewModel(events []Event) (*Model, error) {
	m := &Model{
		events:   events,
		byThread: make(map[ThreadID][]int),
		names:    make(map[ThreadID]string),
		startTs:  math.Inf(1),
		endTs:    math.Inf(-1),
	}

	var (
		startedFound bool
		rendererTID  ThreadID
		rendererSeen bool
	)
	for i, ev := range events {
		th := ev.Thread()
		m.byThread[th] = append(m.byThread[th], i)

		if ev.Ph == PhaseMetadata {
			if ev.Name == threadNameEvent {
				name := ev.Args.Get("name").String()
				m.names[th] = name
				if name == rendererMainThread && !rendererSeen {
					rendererTID, rendererSeen = th, true
				}
			}
			continue
		}

		if ev.Name == startedInPageEvent && !startedFound {
			m.main, startedFound = th, true
		}
		if ev.Ts < m.startTs {
			m.startTs = ev.Ts
		}
		if end := ev.End(); end > m.endTs {
			m.endTs = end
		}
	}

	switch {
	case startedFound:
	case rendererSeen:
		m.main = rendererTID
	default:
		return nil, types.Errorf(types.KindMalformedTrace, "trace: no main renderer thread found")
	}
	if math.IsInf(m.startTs, 1) {
		m.startTs, m.endTs = 0, 0
	}

	m.topLevel = topLevelSlices(m.ThreadEvents(m.main))
	return m, nil
}

// Events returns all events sorted by timestamp.
func (m *Model) Events() []Event { return m.events }

// MainThread returns the main renderer thread.
func (m *Model) MainThread() ThreadID { return m.main }

// ThreadName returns the thread_name metadata value for th.
func (m *Model) ThreadName(th ThreadID) string { return m.names[th] }

// ThreadEvents returns the events recorded on th in timestamp order.
func (m *Model) ThreadEvents(th ThreadID) []Event {
	idx := m.byThread[th]
	out := make([]Event, len(idx))
	for i, j := range idx {
		out[i] = m.events[j]
	}
	return out
}

// StartMs is the earliest non-metadata timestamp in milliseconds.
func (m *Model) StartMs() float64 { return m.startTs / 1000 }

// EndMs is the latest event end in milliseconds.
func (m *Model) EndMs() float64 { return m.endTs / 1000 }

// TopLevelTasks returns the main-thread top-level tasks with times relative to
// originMs. The result is sorted and non-overlapping.
func (m *Model) TopLevelTasks(originMs float64) []Task {
	tasks := make([]Task, len(m.topLevel))
	for i, s := range m.topLevel {
		start := s.start/1000 - originMs
		end := s.end/1000 - originMs
		tasks[i] = Task{StartMs: start, EndMs: end, DurationMs: end - start}
	}
	return tasks
}

// LongTasks filters tasks to those at least LongTaskMs long.
func LongTasks(tasks []Task) []Task {
	var out []Task
	for _, t := range tasks {
		if t.IsLong() {
			out = append(out, t)
		}
	}
	return out
}

// topLevelSlices builds complete slices from X events and matched B/E pairs
// and keeps those not nested inside an earlier slice.
func topLevelSlices(events []Event) []slice {
	var (
		all   []slice
		stack []float64
	)
	for _, ev := range events {
		switch ev.Ph {
		case PhaseComplete:
			if ev.HasDur {
				all = append(all, slice{start: ev.Ts, end: ev.Ts + ev.Dur})
			}
		case PhaseBegin:
			stack = append(stack, ev.Ts)
		case PhaseEnd:
			if len(stack) == 0 {
				continue
			}
			begin := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			all = append(all, slice{start: begin, end: ev.Ts})
		}
	}

	// Parents sort ahead of children that share their start.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end > all[j].end
	})

	var out []slice
	lastEnd := math.Inf(-1)
	for _, s := range all {
		if s.start < lastEnd {
			continue
		}
		out = append(out, s)
		lastEnd = s.end
	}
	return out
}
