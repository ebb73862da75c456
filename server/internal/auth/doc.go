// Package auth guards pagescore-server with a shared API key.
//
// The key travels in a configurable header: gRPC metadata for report
// ingestion (APIKeyInterceptor) and an HTTP header for the REST API
// (HTTPMiddleware). Rejected gRPC calls fail with codes.Unauthenticated and
// rejected HTTP requests with 401. Outside apikey mode, or with no key
// configured, both let everything through.
package auth
