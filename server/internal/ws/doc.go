// Package ws implements the WebSocket hub for pagescore-server.
//
// Hub pushes two kinds of message to every connected client:
//
//	{"event": "report",  "data": {"report": {...}, "diagnostics": [...]}}
//	{"event": "summary", "data": { /* same schema as GET /api/v1/summary */ }}
//
// A report message is sent for every report the receiver accepts (Hub.Publish
// is registered as a receiver listener). A summary is sent on connect and then
// every stream.summary_interval while clients are connected. Connecting with
// ?url=<page> (repeatable) limits report messages to those pages; summaries
// always cover every page.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy. The endpoint is mounted at /ws/stream by the server.
package ws
