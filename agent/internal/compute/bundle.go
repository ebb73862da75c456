package compute

import "time"

// Bundle holds the captured artifacts of one page load. Only Trace is
// required; the remaining artifacts are optional and raw (undecoded).
type Bundle struct {
	// Name identifies the bundle within its source (file path or URL).
	Name string

	// SourceID is the ID of the configured source that produced the bundle.
	SourceID string

	// URL is the page that was loaded, if known.
	URL string

	CollectedAt time.Time

	// Trace is the trace JSON, already decompressed.
	Trace []byte

	// DevtoolsLog is a DevTools protocol message log.
	DevtoolsLog []byte

	// Records is a pre-built network record list. Takes precedence over
	// DevtoolsLog for network analysis.
	Records []byte

	// Chains is a pre-built critical request chain map. When absent, chains
	// are built from DevtoolsLog.
	Chains []byte

	// TraceOfTab is an externally computed milestone summary. When absent,
	// milestones are extracted from the trace.
	TraceOfTab []byte
}
