package types

import (
	"encoding/json"
	"errors"
	"time"
)

// Metric identifiers.
const (
	MetricFirstMeaningfulPaint    = "first-meaningful-paint"
	MetricFirstInteractive        = "first-interactive"
	MetricConsistentlyInteractive = "consistently-interactive"
	MetricEstimatedInputLatency   = "estimated-input-latency"
	MetricTimeToInteractive       = "time-to-interactive"
	MetricCriticalRequestChains   = "critical-request-chains"
	MetricUserTimings             = "user-timings"
)

// KnownMetrics lists every metric ID in report order.
var KnownMetrics = []string{
	MetricFirstMeaningfulPaint,
	MetricFirstInteractive,
	MetricConsistentlyInteractive,
	MetricEstimatedInputLatency,
	MetricTimeToInteractive,
	MetricCriticalRequestChains,
	MetricUserTimings,
}

// IsKnownMetric reports whether id is one of KnownMetrics.
func IsKnownMetric(id string) bool {
	for _, m := range KnownMetrics {
		if m == id {
			return true
		}
	}
	return false
}

// Result is one metric's outcome.
//
// RawValue is a float64 for timing metrics and a bool for pass/fail metrics.
// Score is nil for metrics that are not scored.
type Result struct {
	ID           string         `json:"id"`
	RawValue     any            `json:"rawValue"`
	Score        *int           `json:"score,omitempty"`
	DisplayValue string         `json:"displayValue"`
	ExtendedInfo map[string]any `json:"extendedInfo,omitempty"`
	Error        *ErrorInfo     `json:"error,omitempty"`
}

// ErrorInfo is the serialisable form of an engine failure.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// FailedResult is the result recorded for a metric whose computation failed.
// The raw value is -1 and the score is 0.
func FailedResult(id string, err error) Result {
	info := &ErrorInfo{Message: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		info.Kind = e.Kind
	}
	zero := 0
	return Result{ID: id, RawValue: -1.0, Score: &zero, Error: info}
}

// Numeric returns RawValue as a float64. Booleans map to 1 (true) and 0.
func (r Result) Numeric() (float64, bool) {
	switch v := r.RawValue.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Failed reports whether the metric could not be computed.
func (r Result) Failed() bool { return r.Error != nil }

// Summary describes the main-thread task population of a trace.
type Summary struct {
	TaskCount       int     `json:"taskCount"`
	LongTaskCount   int     `json:"longTaskCount"`
	TotalBusyMs     float64 `json:"totalBusyMs"`
	MeanTaskMs      float64 `json:"meanTaskMs"`
	P50TaskMs       float64 `json:"p50TaskMs"`
	P95TaskMs       float64 `json:"p95TaskMs"`
	MaxTaskMs       float64 `json:"maxTaskMs"`
	TraceDurationMs float64 `json:"traceDurationMs"`
}

// Report is the full analysis of one captured page load.
type Report struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Source     string    `json:"source"`
	AgentID    string    `json:"agentId,omitempty"`
	AnalyzedAt time.Time `json:"analyzedAt"`
	Results    []Result  `json:"results"`
	Summary    Summary   `json:"summary"`

	// Error is set when the bundle could not be analyzed at all.
	Error *ErrorInfo `json:"error,omitempty"`
}

// Result returns the result with the given metric ID.
func (r *Report) Result(id string) (Result, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res, true
		}
	}
	return Result{}, false
}

// Ratings derived from a score.
const (
	RatingPass    = "pass"
	RatingAverage = "average"
	RatingFail    = "fail"
)

// Thresholds that map a score to a rating.
const (
	ThresholdPass    = 90
	ThresholdAverage = 50
)

// RatingOf maps a 0-100 score to a rating.
func RatingOf(score int) string {
	switch {
	case score >= ThresholdPass:
		return RatingPass
	case score >= ThresholdAverage:
		return RatingAverage
	default:
		return RatingFail
	}
}
