// Package store implements the persistent tiered block store.
//
// Every memory block lives in exactly one of four tiers (working,
// short_term, long_term, stale), recorded on disk as a one-hot status
// vector inside a single JSON document. The document is the sole source
// of truth; mutations read, modify, and atomically rewrite it under an
// exclusive file lease.
package store
