// Package table implements the node local Key -> Value table.
//
// The table is the only place a node keeps values. Every mutation is a
// PutIfMatch: the new value is installed only if the slot still holds the
// expected old one, and the caller learns which value it raced against. The
// replication protocol spins on PutIfMatch instead of locking the slot.
//
// Key Features:
//   - Lock-free reads via xsync.MapOf
//   - Compare-and-swap style replacement (PutIfMatch) with a witness result
//   - Info snapshot with a value size histogram
//   - A Cleaner that bounds the bytes cached in memory by freeing persisted
//     home values and dropping cached replicas, least recently used first
package table
