// Package dkv implements a ckv node: the local table, the replication
// protocol and the persistence backends wired together behind the
// store.IStore interface.
//
// Reads are served from the local table when possible. A miss on the home
// node of a key means the key does not exist; a miss anywhere else fetches
// the value from the home and caches it. Writes on the home node replace the
// value and invalidate every cached copy before they return. Writes elsewhere
// are installed locally first, so the writing goroutine sees its own write
// immediately, and return once the home acknowledged them.
//
// Ordering:
//   - A node's writes to one key reach the home in the order they were made.
//   - Once a write returned, no node reads an older value from its cache.
//   - Concurrent writes from different nodes are ordered by the home.
//   - Reads may be stale relative to a write still in flight.
package dkv
