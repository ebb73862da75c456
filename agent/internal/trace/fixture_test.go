package trace

import (
	"encoding/json"
	"testing"
)

const (
	testPid   = 1
	testTid   = 7
	testFrame = "0xframe"
)

// ev is a loosely-typed trace event used to build fixtures.
type ev map[string]any

func startedInPage(tsUs float64) ev {
	return ev{"name": "TracingStartedInPage", "cat": "disabled-by-default-devtools.timeline",
		"ph": "I", "ts": tsUs, "pid": testPid, "tid": testTid,
		"args": map[string]any{"data": map[string]any{"page": testFrame}}}
}

func frameMark(name string, tsUs float64) ev {
	return ev{"name": name, "cat": "blink.user_timing,rail", "ph": "R", "ts": tsUs,
		"pid": testPid, "tid": testTid, "args": map[string]any{"frame": testFrame}}
}

func loadingMark(name string, tsUs float64) ev {
	return ev{"name": name, "cat": "loading,rail,devtools.timeline", "ph": "I", "ts": tsUs,
		"pid": testPid, "tid": testTid, "args": map[string]any{"frame": testFrame}}
}

func task(tsUs, durUs float64) ev {
	return ev{"name": "RunTask", "cat": "toplevel", "ph": "X", "ts": tsUs, "dur": durUs,
		"pid": testPid, "tid": testTid, "args": map[string]any{}}
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}

func mustModel(t *testing.T, events ...ev) *Model {
	t.Helper()
	parsed, err := Parse(encode(t, map[string]any{"traceEvents": events}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m, err := NewModel(parsed)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

// pageLoad is a minimal page load: navigationStart at 1s, paints at 1.5s and
// 2s, DCL at 1.8s, load at 3s, and a handful of main-thread tasks.
func pageLoad() []ev {
	return []ev{
		startedInPage(900_000),
		frameMark("navigationStart", 1_000_000),
		loadingMark("firstPaint", 1_500_000),
		loadingMark("firstContentfulPaint", 1_500_000),
		loadingMark("firstMeaningfulPaint", 2_000_000),
		frameMark("domContentLoadedEventEnd", 1_800_000),
		frameMark("loadEventEnd", 3_000_000),
		task(1_100_000, 20_000),
		task(1_200_000, 80_000),
		task(2_500_000, 300_000),
		task(9_000_000, 1_000),
	}
}
