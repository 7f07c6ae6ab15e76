// Package rpc is the communication layer of ckv. Nodes use it to exchange
// the replication messages (GetKey, PutKey, AckAck) and clients use it for
// the store operations.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, server and client configuration, and
//     the logger wiring.
//
//   - transport: framed request/response transports (TCP, Unix sockets,
//     HTTP and an in-process hub). Every request carries its sender and runs
//     on a worker pool that supports managed blocking.
//
//   - serializer: Message encodings (binary, JSON, GOB, CBOR).
//
//   - client: the PeerSet a node uses to call its peers and the store
//     client used by applications and the CLI.
//
//   - server: binds a node to a transport and bootstraps a complete node
//     from its configuration.
package rpc
