package compute

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/guregu/null.v3"

	"github.com/obsidianstack/pagescore/agent/internal/netlog"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
	"github.com/obsidianstack/pagescore/pkg/types"
)

// errNoChainData is returned for the chain metric when a bundle carries
// neither a chain map nor a devtools log.
var errNoChainData = types.Errorf(types.KindMalformedTrace, "no request chain data in bundle")

// Engine analyzes bundles into reports. It holds only the current scoring
// calibration; bundles share no state, so Analyze may run concurrently.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	scorer *Scorer
}

// NewEngine returns an Engine scoring with the defaults overridden by cals.
func NewEngine(cals map[string]Calibration) (*Engine, error) {
	s, err := NewScorer(cals)
	if err != nil {
		return nil, err
	}
	return &Engine{scorer: s}, nil
}

// SetCalibrations swaps the scoring calibration. On error the previous one
// stays active.
func (e *Engine) SetCalibrations(cals map[string]Calibration) error {
	s, err := NewScorer(cals)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.scorer = s
	e.mu.Unlock()
	return nil
}

// Calibrations returns the effective calibrations.
func (e *Engine) Calibrations() map[string]Calibration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scorer.Calibrations()
}

// Analyze runs every metric over b. now is passed explicitly so callers (and
// tests) control the report timestamp. The report ID is left empty; identical
// bundles analyzed at the same now give identical reports.
//
// A bundle whose trace cannot be decoded yields a report with Error set and
// every metric failed with that error. Otherwise each metric succeeds or fails
// on its own.
func (e *Engine) Analyze(b *Bundle, now time.Time) *types.Report {
	e.mu.RLock()
	scorer := e.scorer
	e.mu.RUnlock()

	rep := &types.Report{
		URL:        b.URL,
		Source:     b.SourceID,
		AnalyzedAt: now,
	}

	a, err := decodeBundle(b)
	if err != nil {
		failed := types.FailedResult("", err)
		rep.Error = failed.Error
		for _, m := range metricTable {
			rep.Results = append(rep.Results, types.FailedResult(m.id, err))
		}
		return rep
	}

	for _, m := range metricTable {
		res, err := m.fn(a, scorer)
		if err != nil {
			rep.Results = append(rep.Results, types.FailedResult(m.id, err))
			continue
		}
		rep.Results = append(rep.Results, res)
	}
	rep.Summary = summarize(a)
	return rep
}

// decodeBundle parses the trace and milestones. Network artifacts that fail to
// decode are recorded on the artifacts and only fail the metrics that need
// them.
func decodeBundle(b *Bundle) (*artifacts, error) {
	if len(b.Trace) == 0 {
		return nil, types.Errorf(types.KindMalformedTrace, "bundle has no trace")
	}
	events, err := trace.Parse(b.Trace)
	if err != nil {
		return nil, err
	}
	model, err := trace.NewModel(events)
	if err != nil {
		return nil, err
	}

	var tab *trace.TraceOfTab
	if len(b.TraceOfTab) > 0 {
		tab, err = trace.DecodeTraceOfTab(b.TraceOfTab)
		if err == nil && !tab.Timestamps.TraceEnd.Valid {
			ts := tab.Timestamps
			ts.TraceEnd = null.FloatFrom(model.EndMs())
			tab, err = trace.NewTraceOfTab(ts)
		}
	} else {
		tab, err = trace.ExtractTraceOfTab(model)
	}
	if err != nil {
		return nil, err
	}

	a := &artifacts{
		model: model,
		tab:   tab,
		tasks: model.TopLevelTasks(tab.NavigationStartMs()),
	}

	switch {
	case len(b.Records) > 0:
		a.records, a.recordsErr = netlog.DecodeRecords(b.Records)
	case len(b.DevtoolsLog) > 0:
		a.records, a.recordsErr = netlog.FromDevtoolsLog(b.DevtoolsLog)
	}

	switch {
	case len(b.Chains) > 0:
		a.chains, a.chainsErr = netlog.DecodeForest(b.Chains)
	case len(b.DevtoolsLog) > 0:
		if a.recordsErr != nil {
			a.chainsErr = a.recordsErr
			break
		}
		recs := a.records
		if len(b.Records) > 0 {
			// Plain record lists carry no priorities; rebuild from the log.
			recs, a.chainsErr = netlog.FromDevtoolsLog(b.DevtoolsLog)
		}
		if a.chainsErr == nil {
			a.chains = netlog.BuildForest(recs)
		}
	default:
		a.chainsErr = errNoChainData
	}
	return a, nil
}

// summarize describes the main-thread task population.
func summarize(a *artifacts) types.Summary {
	sum := types.Summary{TaskCount: len(a.tasks)}
	if end := a.tab.Timings.TraceEnd; end.Valid {
		sum.TraceDurationMs = end.Float64
	}
	if len(a.tasks) == 0 {
		return sum
	}

	durations := make([]float64, len(a.tasks))
	for i, t := range a.tasks {
		durations[i] = t.DurationMs
		if t.IsLong() {
			sum.LongTaskCount++
		}
	}
	sort.Float64s(durations)

	sum.TotalBusyMs = floats.Sum(durations)
	sum.MeanTaskMs = stat.Mean(durations, nil)
	sum.P50TaskMs = stat.Quantile(0.5, stat.Empirical, durations, nil)
	sum.P95TaskMs = stat.Quantile(0.95, stat.Empirical, durations, nil)
	sum.MaxTaskMs = floats.Max(durations)
	return sum
}
