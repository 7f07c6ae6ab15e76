// Package value implements the unit of storage in ckv and the per value
// state the replication protocol runs on.
//
// A Value is immutable once published in a table: its bytes and length never
// change. What changes is bookkeeping. The cached bytes may be dropped and
// reloaded from the persistence backend, and a single 64 bit word records the
// replication state.
//
// On the home node of the key the word is the replica state:
//
//	bits 63..58  number of GETs between ack and ack-ack (readers)
//	bits 57..0   one bit per node holding a cached copy
//
// When a PUT replaces the value, the home locks the word (all ones) after the
// readers drained, and the mask tells it which nodes to invalidate. A locked
// value never gains readers again.
//
// On every other node the same word is the remote put state of a locally
// written value: 0 while the PUT to the home is in flight, 1 while in flight
// with a later PUT waiting for it, and all ones once the home acknowledged.
// Values decoded from the wire start out done.
package value
