package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/obsidianstack/pagescore/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func report(id, url string, fi float64, score int) *types.Report {
	return &types.Report{
		ID:  id,
		URL: url,
		Results: []types.Result{
			{ID: types.MetricFirstInteractive, RawValue: fi, Score: &score},
			{ID: types.MetricCriticalRequestChains, RawValue: true},
		},
	}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	st := New(5*time.Minute, 0)
	if _, added := st.Put(report("r-1", "https://a.test/", 1000, 90)); !added {
		t.Fatal("Put: expected new entry")
	}

	e, ok := st.Get("r-1")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Report.URL != "https://a.test/" {
		t.Errorf("URL: got %q, want https://a.test/", e.Report.URL)
	}
}

func TestGet_Missing(t *testing.T) {
	st := New(5*time.Minute, 0)
	if _, ok := st.Get("unknown"); ok {
		t.Fatal("Get on empty store: expected false, got true")
	}
}

func TestPut_DuplicateIDIgnored(t *testing.T) {
	st := New(5*time.Minute, 0)
	st.Put(report("r", "u", 1000, 90))
	e, added := st.Put(report("r", "u", 9000, 10))
	if added {
		t.Fatal("Put: duplicate ID reported as added")
	}
	if v, _ := e.Report.Results[0].Numeric(); v != 1000 {
		t.Errorf("duplicate replaced the original: got %v", v)
	}
	if n := st.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
	if a := st.Aggregates("u")[0]; a.Samples != 1 {
		t.Errorf("aggregate samples: got %d, want 1", a.Samples)
	}
}

func TestList_ExcludesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 0)

	st.now = fixedClock(base.Add(-10 * time.Minute)) // stale
	st.Put(report("old", "u", 1, 1))

	st.now = fixedClock(base) // live
	st.Put(report("new", "u", 1, 1))

	entries := st.List(Query{})
	if len(entries) != 1 {
		t.Fatalf("List: got %d entries, want 1", len(entries))
	}
	if entries[0].Report.ID != "new" {
		t.Errorf("List[0].ID: got %q, want new", entries[0].Report.ID)
	}
	if _, ok := st.Get("old"); ok {
		t.Error("Get: stale entry returned")
	}
}

func TestList_Query(t *testing.T) {
	base := time.Now()
	st := New(time.Hour, 0)
	for i := 0; i < 6; i++ {
		st.now = fixedClock(base.Add(time.Duration(i) * time.Minute))
		url := "https://a.test/"
		if i%2 == 1 {
			url = "https://b.test/"
		}
		st.Put(report(fmt.Sprintf("r%d", i), url, 1, 1))
	}
	st.now = fixedClock(base.Add(10 * time.Minute))

	ids := func(es []*Entry) string {
		var out []string
		for _, e := range es {
			out = append(out, e.Report.ID)
		}
		return fmt.Sprint(out)
	}

	cases := []struct {
		name string
		q    Query
		want string
	}{
		{"all newest first", Query{}, "[r5 r4 r3 r2 r1 r0]"},
		{"by url", Query{URL: "https://b.test/"}, "[r5 r3 r1]"},
		{"since", Query{Since: base.Add(3 * time.Minute)}, "[r5 r4 r3]"},
		{"limit", Query{Limit: 2}, "[r5 r4]"},
		{"url and limit", Query{URL: "https://a.test/", Limit: 1}, "[r4]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ids(st.List(tc.q)); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	base := time.Now()
	st := New(time.Hour, 0)
	st.now = fixedClock(base)
	st.Put(report("b1", "https://b.test/", 1, 1))
	st.Put(report("a1", "https://a.test/", 1, 1))
	st.now = fixedClock(base.Add(time.Second))
	st.Put(report("a2", "https://a.test/", 1, 1))

	latest := st.Latest()
	if len(latest) != 2 {
		t.Fatalf("Latest: got %d entries, want 2", len(latest))
	}
	if latest[0].Report.ID != "a2" || latest[1].Report.ID != "b1" {
		t.Errorf("Latest: got %s, %s; want a2, b1", latest[0].Report.ID, latest[1].Report.ID)
	}
}

func TestMaxReports_EvictsOldest(t *testing.T) {
	st := New(time.Hour, 3)
	for i := 0; i < 5; i++ {
		st.Put(report(fmt.Sprintf("r%d", i), "u", 1, 1))
	}
	if n := st.Count(); n != 3 {
		t.Fatalf("Count: got %d, want 3", n)
	}
	if _, ok := st.Get("r1"); ok {
		t.Error("r1 should have been pushed out")
	}
	if _, ok := st.Get("r4"); !ok {
		t.Error("r4 should be retained")
	}
	if a := st.Aggregates("u")[0]; a.Samples != 5 {
		t.Errorf("aggregates keep evicted reports: got %d samples, want 5", a.Samples)
	}
}

func TestAggregates(t *testing.T) {
	st := New(time.Hour, 0)
	for i, fi := range []float64{1000, 2000, 3000, 4000, 5000} {
		st.Put(report(fmt.Sprintf("a%d", i), "https://a.test/", fi, 50))
	}
	failed := &types.Report{ID: "f", URL: "https://a.test/", Results: []types.Result{
		types.FailedResult(types.MetricFirstInteractive, types.Errorf(types.KindTraceTooShort, "short")),
	}}
	st.Put(failed)
	st.Put(report("b", "https://b.test/", 700, 100))

	aggs := st.Aggregates("https://a.test/")
	if len(aggs) != 2 {
		t.Fatalf("Aggregates: got %d, want 2", len(aggs))
	}
	fi, chains := aggs[0], aggs[1]
	if fi.Metric != types.MetricFirstInteractive || chains.Metric != types.MetricCriticalRequestChains {
		t.Fatalf("order: got %s, %s", fi.Metric, chains.Metric)
	}
	if fi.Samples != 5 || fi.Failures != 1 {
		t.Errorf("first-interactive: samples %d failures %d, want 5 and 1", fi.Samples, fi.Failures)
	}
	if fi.RawP50 < 2000 || fi.RawP50 > 4000 || fi.RawP90 < fi.RawP50 {
		t.Errorf("quantiles: p50 %v p90 %v", fi.RawP50, fi.RawP90)
	}
	if fi.ScoreP50 == nil || *fi.ScoreP50 != 50 {
		t.Errorf("scoreP50: got %v, want 50", fi.ScoreP50)
	}
	if chains.ScoreP50 != nil {
		t.Error("unscored metric has a score aggregate")
	}
	if chains.RawP50 != 1 {
		t.Errorf("boolean raw value: got %v, want 1", chains.RawP50)
	}

	if all := st.Aggregates(""); len(all) != 4 {
		t.Errorf("Aggregates(all): got %d, want 4", len(all))
	}
}

func TestCount_IncludesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 0)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(report("old", "u", 1, 1))

	st.now = fixedClock(base)
	st.Put(report("new", "u", 1, 1))

	if n := st.Count(); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 0)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(report("old1", "u", 1, 1))
	st.Put(report("old2", "u", 1, 1))

	st.now = fixedClock(base)
	st.Put(report("live", "u", 1, 1))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestEvict_NoTTL(t *testing.T) {
	st := New(0, 0)
	st.now = fixedClock(time.Now().Add(-24 * time.Hour))
	st.Put(report("r", "u", 1, 1))
	if removed := st.Evict(time.Now()); removed != 0 {
		t.Errorf("Evict without TTL: removed %d, want 0", removed)
	}
	st.now = time.Now
	if _, ok := st.Get("r"); !ok {
		t.Error("Get without TTL: entry missing")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := New(time.Minute, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(5*time.Minute, 20)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			st.Put(report(fmt.Sprintf("r%d", n), "u", float64(n), n))
		}(i)
		go func() {
			defer wg.Done()
			st.List(Query{})
		}()
		go func() {
			defer wg.Done()
			st.Aggregates("")
		}()
	}
	wg.Wait()

	if st.Count() != 20 {
		t.Errorf("Count: got %d, want 20", st.Count())
	}
}
