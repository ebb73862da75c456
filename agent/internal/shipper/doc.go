// Package shipper delivers analyzed reports to pagescore-server through the
// ReportService.SendReport unary RPC (JSON codec).
//
// Ship queues a report without blocking. When the queue is full the oldest
// report is dropped so the newest results always survive.
//
// Run paces sends with a token bucket and reconnects with jittered
// exponential backoff (1s doubling to 60s). A transiently failed report is
// retried before anything queued behind it. InvalidArgument,
// Unauthenticated and PermissionDenied discard the report instead.
//
// Transport security is mutual TLS in mtls mode and plaintext otherwise; API
// keys ride as call metadata.
package shipper
