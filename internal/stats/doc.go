// Package stats records operational and performance metrics for the
// memory engine: an in-memory operation log, a capped performance ring,
// daily JSON aggregates, and periodic snapshots under a time-partitioned
// stats directory with retention-based cleanup.
package stats
