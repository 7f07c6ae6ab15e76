package transport

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/ckv/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the sender id (a node index or common.ClientSender) and a request
// and returns a response. ctx carries the worker slot of the request, so the
// handler may block with util.ManagedBlock.
type ServerHandleFunc func(ctx context.Context, from uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every received request
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and serves requests until Close
	Listen(config common.ServerConfig) error
	// Close stops listening. Listen returns nil afterwards.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response. Failed
	// attempts are retried with the same request id, so the server may see a
	// request more than once and answers the repeats from its Replies.
	Send(ctx context.Context, from uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}

// ErrNoEndpoints is returned by Connect without endpoints.
var ErrNoEndpoints = fmt.Errorf("no endpoints provided")
