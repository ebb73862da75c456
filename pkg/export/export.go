// Package export renders reports in the Prometheus text exposition format.
package export

import (
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Metric family names.
const (
	FamilyValue     = "pagescore_metric_value"
	FamilyScore     = "pagescore_metric_score"
	FamilyFailed    = "pagescore_metric_failed"
	FamilyTasks     = "pagescore_main_thread_tasks"
	FamilyLongTasks = "pagescore_main_thread_long_tasks"
	FamilyBusy      = "pagescore_main_thread_busy_milliseconds"
	FamilyAnalyzed  = "pagescore_report_timestamp_seconds"
)

type family struct {
	name, help string
	metrics    []*dto.Metric
}

func (f *family) add(v float64, labels ...string) {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{Name: proto.String(labels[i]), Value: proto.String(labels[i+1])})
	}
	f.metrics = append(f.metrics, m)
}

// Latest keeps the most recently analyzed report per URL.
func Latest(reports []*types.Report) []*types.Report {
	byURL := make(map[string]*types.Report)
	for _, r := range reports {
		if cur, ok := byURL[r.URL]; !ok || r.AnalyzedAt.After(cur.AnalyzedAt) {
			byURL[r.URL] = r
		}
	}
	out := make([]*types.Report, 0, len(byURL))
	for _, r := range byURL {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Families converts the latest report per URL into gauge families. Failed
// metrics appear only in the failed family; unscored metrics have no score.
func Families(reports []*types.Report) []*dto.MetricFamily {
	fams := []*family{
		{name: FamilyValue, help: "Raw metric value (milliseconds for timings)."},
		{name: FamilyScore, help: "Metric score from 0 to 100."},
		{name: FamilyFailed, help: "1 when the metric could not be computed."},
		{name: FamilyTasks, help: "Top-level main thread tasks in the trace."},
		{name: FamilyLongTasks, help: "Main thread tasks of 50ms or more."},
		{name: FamilyBusy, help: "Total main thread task time."},
		{name: FamilyAnalyzed, help: "Unix time the report was produced."},
	}
	value, score, failed, tasks, long, busy, analyzed := fams[0], fams[1], fams[2], fams[3], fams[4], fams[5], fams[6]

	for _, r := range Latest(reports) {
		for _, res := range r.Results {
			if res.Failed() {
				failed.add(1, "url", r.URL, "metric", res.ID, "kind", string(res.Error.Kind))
				continue
			}
			if v, ok := res.Numeric(); ok {
				value.add(v, "url", r.URL, "metric", res.ID)
			}
			if res.Score != nil {
				score.add(float64(*res.Score), "url", r.URL, "metric", res.ID)
			}
		}
		if r.Error == nil {
			tasks.add(float64(r.Summary.TaskCount), "url", r.URL)
			long.add(float64(r.Summary.LongTaskCount), "url", r.URL)
			busy.add(r.Summary.TotalBusyMs, "url", r.URL)
		}
		analyzed.add(float64(r.AnalyzedAt.Unix()), "url", r.URL)
	}

	out := make([]*dto.MetricFamily, 0, len(fams))
	for _, f := range fams {
		if len(f.metrics) == 0 {
			continue
		}
		out = append(out, &dto.MetricFamily{
			Name:   proto.String(f.name),
			Help:   proto.String(f.help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: f.metrics,
		})
	}
	return out
}

// WriteProm writes Families(reports) to w in text format.
func WriteProm(w io.Writer, reports []*types.Report) error {
	for _, mf := range Families(reports) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
