package server

import (
	"context"

	"github.com/ValentinKolb/ckv/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handles reports whether the adapter serves messages of type t.
	Handles(t common.MessageType) bool
	// Handle handles a request of sender from and returns a response.
	// If an error occurs, it is set in the response.
	Handle(ctx context.Context, from uint64, req *common.Message) (resp *common.Message)
}
