// Package metrics provides lock-free counters for authcore observability.
//
// Counters live in cache-line-padded uint64 slots incremented atomically;
// the write path allocates nothing. Export (OTel) lives in metrics/export/
// and reads Snapshot values.
package metrics
