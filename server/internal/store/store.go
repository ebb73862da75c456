package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// digestCompression bounds each t-digest to roughly this many centroids.
const digestCompression = 100

// Entry is a report together with the time it was received.
type Entry struct {
	Report     *types.Report
	ReceivedAt time.Time
}

// Query filters List results. Zero fields match everything.
type Query struct {
	URL   string
	Since time.Time
	Limit int
}

// Aggregate summarizes every report received for one URL and metric since
// the server started. Quantiles are t-digest estimates.
type Aggregate struct {
	URL      string   `json:"url"`
	Metric   string   `json:"metric"`
	Samples  int      `json:"samples"`
	Failures int      `json:"failures"`
	RawP50   float64  `json:"rawP50"`
	RawP90   float64  `json:"rawP90"`
	ScoreP50 *float64 `json:"scoreP50,omitempty"`
	ScoreP90 *float64 `json:"scoreP90,omitempty"`
}

type aggKey struct{ url, metric string }

type digest struct {
	raw, score      *tdigest.TDigest
	samples, scored int
	failures        int
}

// Store is a thread-safe in-memory report store. Reports are kept until
// they are older than the TTL or pushed out by the size cap; per-URL metric
// aggregates outlive the reports that fed them.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*Entry
	order []*Entry // oldest first
	aggs  map[aggKey]*digest
	ttl   time.Duration
	max   int
	now   func() time.Time // injectable for deterministic tests
}

// New creates a Store. ttl <= 0 keeps reports until the cap pushes them out;
// max <= 0 disables the cap.
func New(ttl time.Duration, max int) *Store {
	return &Store{
		byID: make(map[string]*Entry),
		aggs: make(map[aggKey]*digest),
		ttl:  ttl,
		max:  max,
		now:  time.Now,
	}
}

// TTL returns the configured retention.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores rep and folds its results into the aggregates. A report whose
// ID is already stored is ignored and the existing entry returned with false.
// Callers must not modify rep after calling Put.
func (s *Store) Put(rep *types.Report) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byID[rep.ID]; ok {
		return e, false
	}
	e := &Entry{Report: rep, ReceivedAt: s.now()}
	s.byID[rep.ID] = e
	s.order = append(s.order, e)
	s.aggregate(rep)

	if s.max > 0 && len(s.order) > s.max {
		drop := len(s.order) - s.max
		for _, old := range s.order[:drop] {
			delete(s.byID, old.Report.ID)
		}
		s.order = append(s.order[:0:0], s.order[drop:]...)
	}
	return e, true
}

func (s *Store) aggregate(rep *types.Report) {
	for _, res := range rep.Results {
		k := aggKey{url: rep.URL, metric: res.ID}
		d, ok := s.aggs[k]
		if !ok {
			d = &digest{
				raw:   tdigest.NewWithCompression(digestCompression),
				score: tdigest.NewWithCompression(digestCompression),
			}
			s.aggs[k] = d
		}
		if res.Failed() {
			d.failures++
			continue
		}
		if v, ok := res.Numeric(); ok {
			d.raw.Add(v, 1)
			d.samples++
		}
		if res.Score != nil {
			d.score.Add(float64(*res.Score), 1)
			d.scored++
		}
	}
}

func (s *Store) live(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.ReceivedAt.After(now.Add(-s.ttl))
}

// Get returns the live entry with the given report ID.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok || !s.live(e, s.now()) {
		return nil, false
	}
	return e, true
}

// List returns live entries matching q, newest first.
func (s *Store) List(q Query) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]*Entry, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.order[i]
		if !s.live(e, now) {
			break
		}
		if q.URL != "" && e.Report.URL != q.URL {
			continue
		}
		if !q.Since.IsZero() && e.ReceivedAt.Before(q.Since) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Latest returns the most recent live entry per URL, ordered by URL.
func (s *Store) Latest() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	byURL := make(map[string]*Entry)
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.order[i]
		if !s.live(e, now) {
			break
		}
		if _, seen := byURL[e.Report.URL]; !seen {
			byURL[e.Report.URL] = e
		}
	}
	out := make([]*Entry, 0, len(byURL))
	for _, e := range byURL {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Report.URL < out[j].Report.URL })
	return out
}

// Aggregates returns the aggregates for url, or for every URL when url is
// empty, ordered by URL and then by report metric order.
func (s *Store) Aggregates(url string) []Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Aggregate, 0)
	for k, d := range s.aggs {
		if url != "" && k.url != url {
			continue
		}
		a := Aggregate{URL: k.url, Metric: k.metric, Samples: d.samples, Failures: d.failures}
		if d.samples > 0 {
			a.RawP50 = d.raw.Quantile(0.5)
			a.RawP90 = d.raw.Quantile(0.9)
		}
		if d.scored > 0 {
			p50, p90 := d.score.Quantile(0.5), d.score.Quantile(0.9)
			a.ScoreP50, a.ScoreP90 = &p50, &p90
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return metricRank(out[i].Metric) < metricRank(out[j].Metric)
	})
	return out
}

func metricRank(id string) int {
	for i, m := range types.KnownMetrics {
		if m == id {
			return i
		}
	}
	return len(types.KnownMetrics)
}

// Count returns the number of reports currently held, including stale ones
// not yet evicted.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Evict removes entries received at or before now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(s.order) && !s.live(s.order[n], now) {
		delete(s.byID, s.order[n].Report.ID)
		n++
	}
	if n > 0 {
		s.order = append(s.order[:0:0], s.order[n:]...)
	}
	return n
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired reports", "count", n)
			}
		}
	}
}
