package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/pagescore/pkg/export"
	"github.com/obsidianstack/pagescore/pkg/types"
	"github.com/obsidianstack/pagescore/server/internal/alerts"
	"github.com/obsidianstack/pagescore/server/internal/store"
)

const (
	defaultLimit = 100
	maxLimit     = 1000

	promContentType = "text/plain; version=0.0.4; charset=utf-8"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads reports from the store and alert state from the alert engine.
type Handler struct {
	store  *store.Store
	alerts *alerts.Engine
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes. al may be nil, in which
// case no alerts are reported.
func New(st *store.Store, al *alerts.Engine) http.Handler {
	h := &Handler{store: st, alerts: al, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/reports", h.listReports)
	h.mux.HandleFunc("/api/v1/reports/", h.getReport) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/urls", h.urls)
	h.mux.HandleFunc("/api/v1/diagnostics", h.diagnostics)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/summary", h.summary)
	h.mux.HandleFunc("/api/v1/export", h.exportProm)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: overall score and rating counts over
// each page's latest report.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	latest := h.store.Latest()
	resp := HealthResponse{
		ReportCount: h.store.Count(),
		URLCount:    len(latest),
	}
	if h.alerts != nil {
		resp.FiringAlerts = h.alerts.FiringCount()
	}

	var total float64
	var scored int
	for _, e := range latest {
		score, ok := reportScore(e.Report)
		if !ok {
			continue
		}
		total += score
		scored++
		switch rating(score) {
		case types.RatingPass:
			resp.PassCount++
		case types.RatingAverage:
			resp.AverageCount++
		default:
			resp.FailCount++
		}
	}

	if scored == 0 {
		resp.State = "unknown"
		jsonResp(w, http.StatusOK, resp)
		return
	}
	overall := total / float64(scored)
	resp.OverallScore = &overall
	resp.State = rating(overall)
	jsonResp(w, http.StatusOK, resp)
}

// listReports returns GET /api/v1/reports?url=&since=&limit=, newest first.
func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := h.store.List(q)
	out := make([]ReportResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ReportResponse{
			Report:     e.Report,
			ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// getReport returns GET /api/v1/reports/{id} with diagnostics attached.
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	if id == "" {
		h.listReports(w, r)
		return
	}

	e, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "report not found")
		return
	}
	jsonResp(w, http.StatusOK, ReportResponse{
		Report:      e.Report,
		ReceivedAt:  e.ReceivedAt.UTC().Format(time.RFC3339),
		Diagnostics: Diagnose(e.Report),
	})
}

// urls returns GET /api/v1/urls: each page's latest metrics with their
// long-running quantiles.
func (h *Handler) urls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSummary(h.store, time.Now()).URLs)
}

// diagnostics returns GET /api/v1/diagnostics[?url=] for each page's latest
// report.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	want := r.URL.Query().Get("url")
	out := make([]DiagnosticsResponse, 0)
	for _, e := range h.store.Latest() {
		if want != "" && e.Report.URL != want {
			continue
		}
		out = append(out, DiagnosticsResponse{
			URL:      e.Report.URL,
			ReportID: e.Report.ID,
			Hints:    Diagnose(e.Report),
		})
	}
	if want != "" && len(out) == 0 {
		jsonErr(w, http.StatusNotFound, "url not found")
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// summary returns GET /api/v1/summary, the same payload the websocket streams.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSummary(h.store, time.Now()))
}

// exportProm returns GET /api/v1/export: the latest report per page in the
// Prometheus text exposition format.
func (h *Handler) exportProm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	latest := h.store.Latest()
	reports := make([]*types.Report, 0, len(latest))
	for _, e := range latest {
		reports = append(reports, e.Report)
	}
	w.Header().Set("Content-Type", promContentType)
	w.WriteHeader(http.StatusOK)
	export.WriteProm(w, reports) //nolint:errcheck
}

// BuildSummary assembles the latest state of every page in st.
func BuildSummary(st *store.Store, now time.Time) SummaryResponse {
	latest := st.Latest()
	aggs := make(map[string]map[string]store.Aggregate)
	for _, a := range st.Aggregates("") {
		if aggs[a.URL] == nil {
			aggs[a.URL] = make(map[string]store.Aggregate)
		}
		aggs[a.URL][a.Metric] = a
	}

	urls := make([]URLResponse, 0, len(latest))
	for _, e := range latest {
		urls = append(urls, toURLResponse(e, aggs[e.Report.URL]))
	}
	return SummaryResponse{
		URLs:        urls,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseQuery(r *http.Request) (store.Query, error) {
	v := r.URL.Query()
	q := store.Query{URL: v.Get("url"), Limit: defaultLimit}

	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, queryError("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, queryError("limit must be a positive integer")
		}
		q.Limit = min(n, maxLimit)
	}
	return q, nil
}

// reportScore is the mean of every scored metric in rep. Failed metrics
// count with their score of 0.
func reportScore(rep *types.Report) (float64, bool) {
	if rep.Error != nil {
		return 0, false
	}
	var total float64
	var n int
	for _, res := range rep.Results {
		if res.Score == nil {
			continue
		}
		total += float64(*res.Score)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

func rating(score float64) string {
	return types.RatingOf(int(math.Round(score)))
}

func toURLResponse(e *store.Entry, aggs map[string]store.Aggregate) URLResponse {
	rep := e.Report
	resp := URLResponse{
		URL:          rep.URL,
		LastReportID: rep.ID,
		LastSeen:     e.ReceivedAt.UTC().Format(time.RFC3339),
		Error:        rep.Error,
		Summary:      rep.Summary,
		Metrics:      make([]MetricResponse, 0, len(rep.Results)),
	}
	if score, ok := reportScore(rep); ok {
		resp.Score = &score
		resp.Rating = rating(score)
	}
	for _, res := range rep.Results {
		m := MetricResponse{
			ID:           res.ID,
			RawValue:     res.RawValue,
			DisplayValue: res.DisplayValue,
			Score:        res.Score,
			Error:        res.Error,
		}
		if res.Score != nil {
			m.Rating = types.RatingOf(*res.Score)
		}
		if a, ok := aggs[res.ID]; ok {
			m.History = &a
		}
		resp.Metrics = append(resp.Metrics, m)
	}
	return resp
}
