package trace

import (
	"sort"

	"github.com/tidwall/gjson"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Parse decodes raw trace JSON. data may be a bare array of events or an
// object carrying a traceEvents array. Events are returned stably sorted by
// timestamp. Non-metadata events without a ts are dropped.
func Parse(data []byte) ([]Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, types.Errorf(types.KindMalformedTrace, "trace: invalid JSON")
	}

	root := gjson.ParseBytes(data)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.IsObject():
		list = root.Get("traceEvents")
		if !list.Exists() {
			return nil, types.Errorf(types.KindMalformedTrace, "trace: missing traceEvents")
		}
		if !list.IsArray() {
			return nil, types.Errorf(types.KindMalformedTrace, "trace: traceEvents is not an array")
		}
	default:
		return nil, types.Errorf(types.KindMalformedTrace, "trace: expected array or object, got %s", root.Type)
	}

	events := make([]Event, 0, 1024)
	list.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		ev, ok := decodeEvent(v)
		if ok {
			events = append(events, ev)
		}
		return true
	})

	sort.SliceStable(events, func(i, j int) bool { return events[i].Ts < events[j].Ts })
	return events, nil
}

func decodeEvent(v gjson.Result) (Event, bool) {
	ev := Event{
		Name: v.Get("name").String(),
		Cat:  v.Get("cat").String(),
		Ph:   v.Get("ph").String(),
		Pid:  v.Get("pid").Int(),
		Tid:  v.Get("tid").Int(),
		ID:   v.Get("id").String(),
		Args: v.Get("args"),
	}
	ts := v.Get("ts")
	if !ts.Exists() && ev.Ph != PhaseMetadata {
		return Event{}, false
	}
	ev.Ts = ts.Float()
	if dur := v.Get("dur"); dur.Exists() {
		ev.Dur = dur.Float()
		ev.HasDur = true
	}
	return ev, true
}
