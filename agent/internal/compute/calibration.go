package compute

import (
	"fmt"
	"sort"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Calibration is the (median, point of diminishing returns) pair that fits a
// metric's scoring curve, in milliseconds.
type Calibration struct {
	Median float64 `yaml:"median" json:"median"`
	PODR   float64 `yaml:"podr" json:"podr"`
}

// DefaultCalibrations holds the built-in scoring curves.
var DefaultCalibrations = map[string]Calibration{
	types.MetricFirstMeaningfulPaint:    {Median: 4000, PODR: 1600},
	types.MetricFirstInteractive:        {Median: 10000, PODR: 1700},
	types.MetricConsistentlyInteractive: {Median: 10000, PODR: 1700},
	types.MetricEstimatedInputLatency:   {Median: 100, PODR: 50},
	types.MetricTimeToInteractive:       {Median: 5000, PODR: 1700},
}

// Scorer maps metric values to scores using one Distribution per metric.
// It is immutable once built.
type Scorer struct {
	cals  map[string]Calibration
	dists map[string]Distribution
}

// NewScorer builds a Scorer from the defaults overridden by overrides.
// Overrides for unscored metrics are rejected.
func NewScorer(overrides map[string]Calibration) (*Scorer, error) {
	s := &Scorer{
		cals:  make(map[string]Calibration, len(DefaultCalibrations)),
		dists: make(map[string]Distribution, len(DefaultCalibrations)),
	}
	for id, c := range DefaultCalibrations {
		s.cals[id] = c
	}
	for id, c := range overrides {
		if _, ok := DefaultCalibrations[id]; !ok {
			return nil, fmt.Errorf("compute: metric %q is not scored", id)
		}
		s.cals[id] = c
	}

	ids := make([]string, 0, len(s.cals))
	for id := range s.cals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := s.cals[id]
		d, err := NewDistribution(c.Median, c.PODR)
		if err != nil {
			return nil, fmt.Errorf("compute: %s: %w", id, err)
		}
		s.dists[id] = d
	}
	return s, nil
}

// Calibrations returns a copy of the effective calibrations.
func (s *Scorer) Calibrations() map[string]Calibration {
	out := make(map[string]Calibration, len(s.cals))
	for k, v := range s.cals {
		out[k] = v
	}
	return out
}

// Score returns the score of v for metric, or nil if the metric is unscored.
func (s *Scorer) Score(metric string, v float64) *int {
	d, ok := s.dists[metric]
	if !ok {
		return nil
	}
	score := d.Score(v)
	return &score
}
