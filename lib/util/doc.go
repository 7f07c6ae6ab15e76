// Package util provides the concurrency primitives the replication protocol
// is built on, plus small helpers shared by the store packages.
//
// The package contains:
//   - futures: a completion handle collecting a set of outstanding operations
//   - blocker: managed blocking and the bounded WorkerPool that compensates for it
//   - histogram: a SizeHistogram for tracking value size distribution
//
// Managed blocking is what keeps a node responsive under load. Protocol
// handlers run on a bounded WorkerPool. A handler that has to wait (for reader
// leases to drain, for a nested invalidation round trip, for a coalesced fetch)
// tells the pool before it sleeps, the pool admits another request in its place
// and the sleeping handler reclaims a slot when it wakes up. Without this a
// pool whose workers all wait on acks would never run the handlers delivering
// those acks.
package util
