// Package testing provides a conformance suite and benchmarks for
// store.IStore implementations.
//
// A suite run receives a ClusterFactory creating a fresh cloud and returning
// one store.IStore per member. Every test writes through some members and
// reads through the others, so the suite checks the coherence guarantees of
// the replication protocol as well as the plain key-value semantics.
//
// Usage:
//
//	func TestNode(t *testing.T) {
//	    storetesting.RunStoreTests(t, "dkv", newLocalCluster)
//	}
package testing
