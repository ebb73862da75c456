package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// pageTrace: navigationStart at 1s, FMP at 2s, DCL at 1.8s, two long tasks,
// recording until 30s.
const pageTrace = `{"traceEvents":[
 {"name":"TracingStartedInPage","cat":"disabled-by-default-devtools.timeline","ph":"I","ts":900000,"pid":1,"tid":7,"args":{"data":{"page":"0xf"}}},
 {"name":"navigationStart","cat":"blink.user_timing","ph":"R","ts":1000000,"pid":1,"tid":7,"args":{"frame":"0xf"}},
 {"name":"firstPaint","cat":"loading","ph":"I","ts":1500000,"pid":1,"tid":7,"args":{"frame":"0xf"}},
 {"name":"firstContentfulPaint","cat":"loading","ph":"I","ts":1500000,"pid":1,"tid":7,"args":{"frame":"0xf"}},
 {"name":"firstMeaningfulPaint","cat":"loading","ph":"I","ts":2000000,"pid":1,"tid":7,"args":{"frame":"0xf"}},
 {"name":"domContentLoadedEventEnd","cat":"blink.user_timing","ph":"R","ts":1800000,"pid":1,"tid":7,"args":{"frame":"0xf"}},
 {"name":"RunTask","cat":"toplevel","ph":"X","ts":1900000,"dur":200000,"pid":1,"tid":7,"args":{}},
 {"name":"RunTask","cat":"toplevel","ph":"X","ts":8000000,"dur":100000,"pid":1,"tid":7,"args":{}},
 {"name":"TracingEnd","cat":"__metadata","ph":"I","ts":30000000,"pid":1,"tid":99}
]}`

const devtoolsLog = `[
 {"method":"Network.requestWillBeSent","params":{"requestId":"1","timestamp":1.0,"type":"Document","request":{"url":"https://example.com/","initialPriority":"VeryHigh"}}},
 {"method":"Network.loadingFinished","params":{"requestId":"1","timestamp":1.5,"encodedDataLength":5000}}
]`

var fixedNow = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func testEngine(t *testing.T) *compute.Engine {
	t.Helper()
	e, err := compute.NewEngine(nil)
	require.NoError(t, err)
	return e
}

// --- analyzeFiles ---

func TestAnalyzeFiles_TraceAndManifest(t *testing.T) {
	dir := t.TempDir()
	bare := writeFixture(t, dir, "page.trace.json", pageTrace)
	writeFixture(t, dir, "page.devtoolslog.json", devtoolsLog)
	manifest := writeFixture(t, dir, "bundle.json",
		`{"url":"https://example.com/","trace":"page.trace.json","devtoolsLog":"page.devtoolslog.json"}`)

	reports, err := analyzeFiles(context.Background(), testEngine(t), []string{bare, manifest}, 2, fixedNow)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, bare, reports[0].Source, "reports keep argument order")
	assert.Equal(t, bare, reports[0].URL, "bare trace is keyed by its path")
	fmp, ok := reports[0].Result(types.MetricFirstMeaningfulPaint)
	require.True(t, ok)
	assert.Equal(t, 1000.0, fmp.RawValue)
	chains, _ := reports[0].Result(types.MetricCriticalRequestChains)
	assert.True(t, chains.Failed(), "bare trace has no chain data")

	assert.Equal(t, "https://example.com/", reports[1].URL)
	chains, _ = reports[1].Result(types.MetricCriticalRequestChains)
	assert.False(t, chains.Failed())
	assert.Equal(t, fixedNow(), reports[1].AnalyzedAt)
}

func TestAnalyzeFiles_MissingFile(t *testing.T) {
	_, err := analyzeFiles(context.Background(), testEngine(t),
		[]string{filepath.Join(t.TempDir(), "absent.json")}, 1, fixedNow)
	assert.Error(t, err)
}

// --- analyze command ---

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeCmd_JSON(t *testing.T) {
	p := writeFixture(t, t.TempDir(), "page.json", pageTrace)
	out, err := runRoot(t, "analyze", "--format", "json", p)
	require.NoError(t, err)

	var reports []types.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Results, len(types.KnownMetrics))
	assert.Equal(t, 2, reports[0].Summary.TaskCount)
}

func TestAnalyzeCmd_Text(t *testing.T) {
	p := writeFixture(t, t.TempDir(), "page.json", pageTrace)
	out, err := runRoot(t, "analyze", "--color", "never", p)
	require.NoError(t, err)

	assert.Contains(t, out, p)
	assert.Contains(t, out, "2 tasks, 2 long")
	assert.Contains(t, out, "first-meaningful-paint")
	assert.Contains(t, out, "1,000 ms")
	assert.NotContains(t, out, "\x1b[", "color disabled")
}

func TestAnalyzeCmd_Prom(t *testing.T) {
	p := writeFixture(t, t.TempDir(), "page.json", pageTrace)
	out, err := runRoot(t, "analyze", "-f", "prom", p)
	require.NoError(t, err)
	assert.Contains(t, out, `metric="first-meaningful-paint"} 1000`)
	assert.Contains(t, out, `url="`+p+`"`)
}

func TestAnalyzeCmd_Failures(t *testing.T) {
	dir := t.TempDir()

	t.Run("malformed trace", func(t *testing.T) {
		p := writeFixture(t, dir, "bad.json", `not json`)
		out, err := runRoot(t, "analyze", "--color", "never", p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 1 bundles")
		assert.Contains(t, out, "error: malformed_trace")
	})

	t.Run("unknown format", func(t *testing.T) {
		p := writeFixture(t, dir, "ok.json", pageTrace)
		_, err := runRoot(t, "analyze", "--format", "xml", p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown format")
	})

	t.Run("no files", func(t *testing.T) {
		_, err := runRoot(t, "analyze")
		assert.Error(t, err)
	})
}

// --- writeText ---

func TestWriteText_Colors(t *testing.T) {
	good, bad := 95, 10
	rep := &types.Report{
		URL: "https://example.com/",
		Results: []types.Result{
			{ID: types.MetricFirstInteractive, RawValue: 900.0, Score: &good, DisplayValue: "900 ms"},
			{ID: types.MetricTimeToInteractive, RawValue: 20000.0, Score: &bad, DisplayValue: "20,000 ms"},
			{ID: types.MetricUserTimings, RawValue: 0, DisplayValue: "0"},
		},
	}

	var plain, colored bytes.Buffer
	require.NoError(t, writeText(&plain, []*types.Report{rep}, false))
	require.NoError(t, writeText(&colored, []*types.Report{rep}, true))

	assert.NotContains(t, plain.String(), "\x1b[")
	assert.Contains(t, colored.String(), "\x1b[32m95", "pass is green")
	assert.Contains(t, colored.String(), "\x1b[31m10", "fail is red")

	lines := strings.Split(strings.TrimSpace(plain.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasSuffix(lines[4], "-"), "unscored metric shows a dash")
}

// --- pipeline ---

type fakeSource struct {
	id      string
	bundles []*compute.Bundle
	err     error
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Collect(context.Context) ([]*compute.Bundle, error) {
	b := f.bundles
	f.bundles = nil
	return b, f.err
}

func TestPipeline_Collect(t *testing.T) {
	var (
		mu   sync.Mutex
		sunk []*types.Report
	)
	p := &pipeline{
		engine:  testEngine(t),
		workers: 3,
		now:     fixedNow,
		sink: func(r *types.Report) {
			mu.Lock()
			sunk = append(sunk, r)
			mu.Unlock()
		},
	}

	var bundles []*compute.Bundle
	for i := 0; i < 5; i++ {
		bundles = append(bundles, &compute.Bundle{SourceID: "spool", Trace: []byte(pageTrace)})
	}
	ok := &fakeSource{id: "spool", bundles: bundles}
	broken := &fakeSource{id: "http", err: errors.New("connection refused")}

	p.collect(context.Background(), broken, ok)
	require.Len(t, sunk, 5)
	ids := map[string]bool{}
	for _, r := range sunk {
		assert.Equal(t, "spool", r.Source)
		assert.Nil(t, r.Error)
		assert.NotEmpty(t, r.ID)
		ids[r.ID] = true
	}
	assert.Len(t, ids, 5, "report IDs are unique")

	p.collect(context.Background(), ok)
	assert.Len(t, sunk, 5, "drained source yields nothing")
}

func TestPipeline_AnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &pipeline{engine: testEngine(t), workers: 1, now: fixedNow}
	reports := p.analyze(ctx, []*compute.Bundle{{Trace: []byte(pageTrace)}})
	assert.Empty(t, reports)
}
