// Package netlog ingests the network side of a captured page load.
//
// Records come either as a plain record list (records.go) or are rebuilt from
// a DevTools protocol log (devtools.go). Record times are seconds on the wire
// and milliseconds once decoded.
//
// forest.go holds the critical request chain forest: an arena of nodes with
// explicit child index lists, decoded from a supplied nested map or built from
// records using request priority as the criticality signal.
package netlog
