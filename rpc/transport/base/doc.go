// Package base provides the stream transports shared by the tcp and unix
// packages. Protocol specifics live in small connectors; everything else
// (framing, request correlation, pooling, retries) is implemented here once.
//
// Frames have the layout
//
//	[from:8][requestID:8][length:4][payload]
//
// where from is the sender's node index (common.ClientSender for CLI
// clients). The server echoes from and requestID on the response.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: protocol-specific dialing,
//     listening and socket options.
//
//   - clientTransport: manages several connections per endpoint with
//     round-robin selection. A request id is shared by all retries of one
//     Send; retries back off exponentially with jitter and stop when the
//     caller's context is done. A broken connection fails its waiting
//     requests and is redialed.
//
//   - serverTransport: accepts connections and runs every request on a
//     util.WorkerPool shared by all connections. Handlers that block in
//     util.ManagedBlock hand their slot back, so a handler waiting on a
//     remote reply never starves the requests that would complete it.
//     A request id seen again from the same sender is answered from a
//     transport.Replies table rather than handled twice.
//
// Read buffers are drawn from a sync.Pool and returned once the handler is
// done with them; handlers must copy what they keep.
package base
