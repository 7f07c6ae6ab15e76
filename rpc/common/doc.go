// Package common provides the data structures shared by the rpc packages:
// the message protocol, the client and server configuration and the
// logger used by every ckv package.
//
// Key Components:
//
//   - Message: the single structure used for requests and responses. Peer
//     messages implement the replication protocol (GetKey, PutKey, AckAck);
//     client messages implement store.IStore (Set, Get, Delete, Has).
//     Errors travel as a message plus a store.RetCode, so the receiver can
//     rebuild a store.Error.
//
//   - ServerConfig: configuration of a node. It includes the membership
//     (a static list or a raft shard), the store limits, persistence
//     directories and transport settings, and converts to the Dragonboat
//     configuration of the membership shard.
//
//   - ClientConfig: connection parameters, timeouts and retry behavior.
//
//   - Logger: a Dragonboat logger.ILogger with a uniform format for all
//     packages.
package common
