package trace

import "github.com/tidwall/gjson"

// Phases used by the model.
const (
	PhaseComplete     = "X"
	PhaseBegin        = "B"
	PhaseEnd          = "E"
	PhaseMetadata     = "M"
	PhaseAsyncBegin   = "b"
	PhaseAsyncEnd     = "e"
	PhaseMark         = "R"
	PhaseInstant      = "I"
	PhaseInstantLower = "i"
)

// Event is a single trace event. Timestamps and durations are microseconds.
type Event struct {
	Name   string
	Cat    string
	Ph     string
	Ts     float64
	Dur    float64
	HasDur bool
	Pid    int64
	Tid    int64
	ID     string
	Args   gjson.Result
}

// ThreadID identifies a thread within a process.
type ThreadID struct {
	Pid int64
	Tid int64
}

// Thread returns the thread the event was recorded on.
func (e Event) Thread() ThreadID { return ThreadID{Pid: e.Pid, Tid: e.Tid} }

// End returns the end timestamp of a complete event, or Ts for others.
func (e Event) End() float64 {
	if e.HasDur {
		return e.Ts + e.Dur
	}
	return e.Ts
}

// Frame returns args.frame, or "" when absent.
func (e Event) Frame() string { return e.Args.Get("frame").String() }

// HasFrame reports whether args.frame is present.
func (e Event) HasFrame() bool { return e.Args.Get("frame").Exists() }
