// Package types defines the report contract shared by the agent and server.
//
// A Report is the outcome of analyzing one captured page load: one Result per
// metric plus a task summary. Results carry either a numeric or boolean raw
// value, an optional 0-100 score, a display string and free-form extended
// info. A failed metric keeps its ID and carries an ErrorInfo instead of a
// value.
//
// errors.go defines the engine's error taxonomy. Every engine failure is a
// *Error tagged with a Kind; callers branch on it with errors.Is against the
// Err* sentinels.
package types
