// Package client implements the RPC clients of ckv.
//
// PeerSet is the task.Caller of a node: it sends GetKey, PutKey and AckAck
// to other members, encoding values in the value wire format. Transports
// are created per peer on first use and identify the caller by its node
// index.
//
// NewRPCStore returns a store.IStore for applications and the CLI. It may
// talk to any node and identifies itself as common.ClientSender.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		Endpoints:     []string{"localhost:8080"},
//		TimeoutSecond: 5,
//		RetryCount:    3,
//	}
//	kv, _ := client.NewRPCStore(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	_ = kv.Set(ctx, "mykey", []byte("myvalue"))
//	value, exists, _ := kv.Get(ctx, "mykey")
//
// Errors returned by the server arrive as *store.Error with the server's
// return code, so errors.Is(err, store.ErrValueTooLarge) works across the
// wire. Transport failures map to store.ErrUnavailable.
package client
