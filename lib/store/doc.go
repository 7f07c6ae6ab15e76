// Package store defines the byte level interface of a ckv cloud and the
// error taxonomy shared by every layer.
//
// Key Components:
//
//   - IStore Interface: Set, Get, Delete and Has on string keys. The
//     in process node (lib/store/dkv) and the RPC client store (rpc/client)
//     implement it, so applications and tests can switch between them.
//
//   - Error System: an Error carries a RetCode and a message. Codes survive
//     the wire, and errors.Is matches on the code, so callers can react to
//     ErrBackend or ErrProtocolViolation regardless of where the error was
//     raised.
//
// Sub packages:
//
//	- table:   the local Key -> Value table of a node and its memory cleaner
//	- dkv:     a cloud member combining the table with the replication protocol
//	- testing: a conformance suite for IStore implementations
package store
