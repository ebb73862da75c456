package api

import (
	"github.com/obsidianstack/pagescore/pkg/types"
	"github.com/obsidianstack/pagescore/server/internal/store"
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	State        string   `json:"state"`
	OverallScore *float64 `json:"overall_score,omitempty"`
	ReportCount  int      `json:"report_count"`
	URLCount     int      `json:"url_count"`
	PassCount    int      `json:"pass_count"`
	AverageCount int      `json:"average_count"`
	FailCount    int      `json:"fail_count"`
	FiringAlerts int      `json:"firing_alerts"`
}

// ReportResponse is one stored report as returned by the reports endpoints.
type ReportResponse struct {
	*types.Report
	ReceivedAt  string           `json:"received_at"`
	Diagnostics []DiagnosticHint `json:"diagnostics,omitempty"`
}

// MetricResponse is the latest value of one metric for a URL together with
// its long-running quantiles.
type MetricResponse struct {
	ID           string           `json:"id"`
	RawValue     any              `json:"raw_value"`
	DisplayValue string           `json:"display_value,omitempty"`
	Score        *int             `json:"score,omitempty"`
	Rating       string           `json:"rating,omitempty"`
	Error        *types.ErrorInfo `json:"error,omitempty"`
	History      *store.Aggregate `json:"history,omitempty"`
}

// URLResponse summarizes the most recent report of one page.
type URLResponse struct {
	URL          string           `json:"url"`
	LastReportID string           `json:"last_report_id"`
	LastSeen     string           `json:"last_seen"`
	Score        *float64         `json:"score,omitempty"`
	Rating       string           `json:"rating,omitempty"`
	Error        *types.ErrorInfo `json:"error,omitempty"`
	Summary      types.Summary    `json:"summary"`
	Metrics      []MetricResponse `json:"metrics"`
}

// DiagnosticsResponse groups the hints for one page.
type DiagnosticsResponse struct {
	URL      string           `json:"url"`
	ReportID string           `json:"report_id"`
	Hints    []DiagnosticHint `json:"hints"`
}

// SummaryResponse is the full dashboard view: every page's latest state.
// It is also the payload of the websocket "summary" event.
type SummaryResponse struct {
	URLs        []URLResponse `json:"urls"`
	GeneratedAt string        `json:"generated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}
