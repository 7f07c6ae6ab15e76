// Package task implements the replication protocol between a key's home
// node and the nodes caching or writing it.
//
// Remote-Get: a node missing a key asks the home. Concurrent GETs of one key
// on a node share a single request (Getter). The home registers the
// requester as a replica and as an active reader of the value, grants a
// lease and answers (the ack). Once the requester installed the value it
// returns the lease (the ack-ack) and the home lowers the reader count. A
// lease whose ack-ack never arrives expires and is released the same way.
//
// Remote-Put: a node writing a key installs the value locally, waits for its
// previous write to the key to be acknowledged, and sends the value to the
// home (Putter). The home installs it with the writer as the only replica,
// waits for readers of the replaced value to drain, locks it, and invalidates
// every other node caching it before it acknowledges (Handler). A delete is a
// PUT of a tombstone.
//
// The protocol only talks to other nodes through the Caller interface, so
// the transport is pluggable. The rpc/client package provides the
// implementation used by the server.
package task
