package compute

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// Distribution is a log-normal curve fitted from a median and a point of
// diminishing returns (PODR). It maps a raw metric value to the share of
// the population that does worse.
type Distribution struct {
	location float64
	shape    float64
}

// NewDistribution fits the curve. median and podr share a unit; podr may sit
// on either side of median, but the pair must satisfy (ln(podr/median)-3)² ≥ 8
// for the shape to be real and positive.
func NewDistribution(median, podr float64) (Distribution, error) {
	if !(median > 0) || !(podr > 0) {
		return Distribution{}, types.Errorf(types.KindDistributionInput,
			"compute: median (%v) and podr (%v) must be positive", median, podr)
	}

	logRatio := math.Log(podr / median)
	inner := (logRatio-3)*(logRatio-3) - 8
	if inner < 0 {
		return Distribution{}, types.Errorf(types.KindDistributionInput,
			"compute: calibration (median %v, podr %v) has no real shape", median, podr)
	}
	outer := 1 - 3*logRatio - math.Sqrt(inner)
	if !(outer > 0) {
		return Distribution{}, types.Errorf(types.KindDistributionInput,
			"compute: calibration (median %v, podr %v) yields a non-positive shape", median, podr)
	}

	return Distribution{
		location: math.Log(median),
		shape:    0.5 * math.Sqrt(outer),
	}, nil
}

// Location is ln(median).
func (d Distribution) Location() float64 { return d.location }

// Shape is the standard deviation of ln(x).
func (d Distribution) Shape() float64 { return d.shape }

// ComplementaryPercentile returns 1 - CDF(x), in [0, 1]. Values at or below
// zero are the best possible outcome.
func (d Distribution) ComplementaryPercentile(x float64) float64 {
	if x <= 0 {
		return 1
	}
	z := (math.Log(x) - d.location) / d.shape
	return 1 - distuv.UnitNormal.CDF(z)
}

// Score maps x to an integer score in [0, 100].
func (d Distribution) Score(x float64) int {
	return int(math.Round(clamp(100*d.ComplementaryPercentile(x), 0, 100)))
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
