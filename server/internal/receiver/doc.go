// Package receiver implements rpc.ReportServiceServer, the gRPC endpoint that
// accepts reports from pagescore-agent instances.
//
// SendReport rejects reports without a URL, without results, or with unknown
// metric IDs (codes.InvalidArgument), assigns an ID when the agent sent none,
// stores the report and hands it to the configured listeners (alert
// evaluation, the websocket hub). Authentication is enforced upstream by the
// gRPC server interceptor (see package auth).
package receiver
