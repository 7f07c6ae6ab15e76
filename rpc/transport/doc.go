// Package transport defines the interfaces and abstractions for RPC communication
// between ckv nodes and clients. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Passing the sender of every request to the handler
//   - Enabling multiple transport implementations (HTTP, TCP, Unix sockets, in memory)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending (at-least-once).
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and runs the handler on a util.WorkerPool.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
//   - Replies: the reply table servers use to answer a retried request id with
//     the response of its first delivery.
package transport
