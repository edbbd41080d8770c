// Package nexus manages nexus points: sticky, protection-tagged blocks
// whose importance is derived from access frequency, recency, reference
// fan-in, and declared significance. Admission is capped; when the cap
// is reached a stronger candidate displaces the weakest incumbent.
package nexus
