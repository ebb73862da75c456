// Package source collects captured page loads for analysis.
//
// Each configured source yields compute.Bundles: a trace plus whatever
// network artifacts were captured alongside it. Two source types exist:
//
//   - spool (spool.go): a directory of artifacts selected with doublestar
//     include/exclude globs. Collected files move to done/, unreadable ones
//     to failed/. Watch() turns fsnotify events into collection triggers.
//   - http (http.go): a URL serving a bundle or a bare trace, fetched with
//     the shared authRoundTripper. Unchanged responses (ETag) are skipped.
//
// An artifact is either a bare trace (JSON, optionally gzip/zstd/xz
// compressed) or a JSON manifest whose fields are located with JSONPath
// expressions (manifest.go). Manifest fields may hold the artifact inline or
// reference it by relative path or URL.
//
// Factory: New(config.Source) returns the correct Source.
package source
