package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/pagescore/pkg/types"
)

// condition is a parsed rule expression "<subject>.<field> <op> <value>".
//
// Subjects are metric IDs, "summary" or "report":
//
//	first-interactive.raw > 5000
//	estimated-input-latency.score < 50
//	time-to-interactive.failed == true
//	summary.long_tasks > 20
//	summary.busy_ms > 3000
//	report.failed == true
//
// A failed metric has raw -1 and score 0, so score thresholds fire on
// failures while raw thresholds do not.
type condition struct {
	subject, field, op string
	threshold          float64
}

var summaryFields = map[string]func(types.Summary) float64{
	"tasks":       func(s types.Summary) float64 { return float64(s.TaskCount) },
	"long_tasks":  func(s types.Summary) float64 { return float64(s.LongTaskCount) },
	"busy_ms":     func(s types.Summary) float64 { return s.TotalBusyMs },
	"max_task_ms": func(s types.Summary) float64 { return s.MaxTaskMs },
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"<metric>.<field> <op> <value>\"", expr)
	}
	lhs, op, rhs := parts[0], parts[1], parts[2]

	dot := strings.LastIndexByte(lhs, '.')
	if dot <= 0 || dot == len(lhs)-1 {
		return condition{}, fmt.Errorf("condition %q: left side must be <metric>.<field>", expr)
	}
	c := condition{subject: lhs[:dot], field: lhs[dot+1:], op: op}

	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}

	switch {
	case c.subject == "summary":
		if _, ok := summaryFields[c.field]; !ok {
			return condition{}, fmt.Errorf("condition %q: unknown summary field %q", expr, c.field)
		}
	case c.subject == "report":
		if c.field != "failed" {
			return condition{}, fmt.Errorf("condition %q: report only has the failed field", expr)
		}
	case types.IsKnownMetric(c.subject):
		switch c.field {
		case "raw", "score", "failed":
		default:
			return condition{}, fmt.Errorf("condition %q: unknown field %q (want raw, score or failed)", expr, c.field)
		}
	default:
		return condition{}, fmt.Errorf("condition %q: unknown metric %q", expr, c.subject)
	}

	if c.field == "failed" {
		b, err := strconv.ParseBool(rhs)
		if err != nil || (op != "==" && op != "!=") {
			return condition{}, fmt.Errorf("condition %q: failed compares with == or != against true or false", expr)
		}
		c.threshold = boolValue(b)
		return c, nil
	}
	v, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: value %q is not a number", expr, rhs)
	}
	c.threshold = v
	return c, nil
}

// eval returns whether the condition fires and the value it compared. ok is
// false when the report has nothing to compare (metric absent, unscored).
func (c condition) eval(rep *types.Report) (fires bool, value float64, ok bool) {
	switch c.subject {
	case "report":
		value = boolValue(rep.Error != nil)
	case "summary":
		if rep.Error != nil {
			return false, 0, false
		}
		value = summaryFields[c.field](rep.Summary)
	default:
		res, found := rep.Result(c.subject)
		if !found {
			return false, 0, false
		}
		switch c.field {
		case "failed":
			value = boolValue(res.Failed())
		case "score":
			if res.Score == nil {
				return false, 0, false
			}
			value = float64(*res.Score)
		case "raw":
			if value, ok = res.Numeric(); !ok {
				return false, 0, false
			}
		}
	}
	return compareFloat(value, c.op, c.threshold), value, true
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
