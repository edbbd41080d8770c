// Package engine wires the tiered block store, pruner, nexus manager,
// retriever, and statistics into the hierarchical memory engine's
// top-level operations. Operations are serialized, and every failure
// surfaces as a single Error kind. Each store write is atomic on its own;
// an operation that writes several times (an add followed by pruning) is
// not rolled back when a later step fails. Add, search, related, w3w
// lookup and maintenance record a failed performance sample before
// returning an error; GetMemoryByID, GetNexusPoints and GetMemoryStats
// record no samples.
package engine
