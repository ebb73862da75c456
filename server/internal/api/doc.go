// Package api implements the HTTP REST API for pagescore-server.
//
// New(store, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/health          overall score, rating counts, firing alerts
//	GET /api/v1/reports         stored reports, newest first (?url=&since=&limit=)
//	GET /api/v1/reports/{id}    one report with diagnostics; 404 if unknown or stale
//	GET /api/v1/urls            latest metrics per page with t-digest quantiles
//	GET /api/v1/diagnostics     hints for each page's latest report (?url=)
//	GET /api/v1/alerts          firing and recently resolved alerts
//	GET /api/v1/summary         the payload streamed by the websocket hub
//	GET /api/v1/export          latest reports in Prometheus text format
//
// Every endpoint returns 405 for non-GET methods. All but export respond
// with Content-Type: application/json.
package api
