// Package server binds a dkv.Node to an RPC server transport.
//
// Requests are decoded with the configured serializer and dispatched to one
// of two adapters:
//
//   - the peer adapter serves GetKey, PutKey and AckAck from other members
//     through the node's task.Handler. Values travel in the value wire
//     format. A GetKey whose value cannot be encoded returns its lease
//     right away, so the key's writers are not held up by a reader that
//     never got the value.
//
//   - the store adapter serves Set, Delete, Get and Has from clients through
//     the node's store.IStore methods. Any node accepts them.
//
// Peer messages from common.ClientSender or unknown nodes are rejected as
// protocol violations. Errors travel as return code plus message and surface
// on the client as *store.Error.
//
// Bootstrap builds a complete node from a common.ServerConfig: loggers,
// ICE and NFS backends, the membership (static, or a dragonboat shard
// running the rmember table), the client.PeerSet, the memory cleaner and the
// Prometheus endpoint.
//
// Usage Example:
//
//	srv, err := server.Bootstrap(ctx, config,
//		tcp.NewTCPDefaultServerTransport(), tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Serve(); err != nil {
//		log.Fatal(err)
//	}
package server
