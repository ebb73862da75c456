package compute

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatMilliseconds renders ms rounded to granularity with digit grouping,
// e.g. "4,010 ms".
func FormatMilliseconds(ms, granularity float64) string {
	coarse := math.Round(ms/granularity) * granularity
	if granularity >= 1 {
		return printer.Sprintf("%d ms", int64(coarse))
	}
	return printer.Sprintf("%.1f ms", coarse)
}

// FormatCount renders n with digit grouping.
func FormatCount(n int) string { return printer.Sprintf("%d", n) }

// roundTo rounds v to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
