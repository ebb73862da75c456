package trace

import "strings"

// UserTiming is a User Timing mark or measure, in milliseconds relative to
// navigationStart.
type UserTiming struct {
	Name      string  `json:"name"`
	IsMark    bool    `json:"isMark"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// UserTimings collects the page's performance.mark and performance.measure
// entries from the main thread. Browser-emitted blink.user_timing events carry
// a frame argument (or are requestStart) and are skipped.
func UserTimings(m *Model, navStartMs float64) []UserTiming {
	var (
		out    []UserTiming
		starts = make(map[string]float64)
	)
	for _, ev := range m.ThreadEvents(m.main) {
		if !strings.Contains(ev.Cat, "blink.user_timing") {
			continue
		}
		if ev.Name == "requestStart" || ev.Name == "navigationStart" || ev.HasFrame() {
			continue
		}

		t := ev.Ts/1000 - navStartMs
		switch ev.Ph {
		case PhaseMark, PhaseInstant, PhaseInstantLower:
			out = append(out, UserTiming{Name: ev.Name, IsMark: true, StartTime: t})
		case PhaseAsyncBegin, PhaseBegin:
			starts[measureKey(ev)] = t
		case PhaseAsyncEnd, PhaseEnd:
			key := measureKey(ev)
			start, ok := starts[key]
			if !ok {
				continue
			}
			delete(starts, key)
			out = append(out, UserTiming{
				Name:      ev.Name,
				StartTime: start,
				EndTime:   t,
				Duration:  t - start,
			})
		}
	}
	return out
}

func measureKey(ev Event) string { return ev.Name + "\x00" + ev.ID }
