// Package store keeps received reports in memory with TTL and size-cap
// eviction, and maintains per-URL, per-metric t-digest aggregates.
package store
