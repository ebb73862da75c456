// Package trace turns a captured Chrome trace into the model the metrics
// engine works on.
//
// open.go reads trace artifacts from disk, transparently inflating gzip, zstd
// and xz files detected by their magic bytes.
//
// parse.go decodes either a bare JSON array of trace events or an object with a
// traceEvents array. Anything else is a MalformedTrace error.
//
// model.go indexes events by thread, identifies the main renderer thread and
// extracts the non-nested ("top-level") task slices on it.
//
// tab.go derives the navigation milestones (TraceOfTab) used as analysis
// anchors, and usertiming.go collects User Timing marks and measures.
//
// All times leaving this package are milliseconds. Trace timestamps are
// microseconds and are converted exactly once, when tasks and milestones are
// built.
package trace
