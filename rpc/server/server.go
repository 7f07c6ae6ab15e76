package server

import (
	"context"
	"errors"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/store/dkv"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates the RPC server of node. It serves the replication
// messages of other members and the store operations of clients.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		node,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	node *dkv.Node,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		node:       node,
		transport:  transport,
		serializer: serializer,
		adapters: []IRPCServerAdapter{
			NewPeerServerAdapter(node.Handler(), node.Backends()),
			NewIStoreServerAdapter(node),
		},
	}
}

// RPCServer binds a dkv.Node to a server transport.
type RPCServer struct {
	config     common.ServerConfig
	node       *dkv.Node
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapters   []IRPCServerAdapter

	closeOnce sync.Once
	closers   []func() error // resources owned by the server, closed in reverse
}

// Node returns the served node.
func (s *RPCServer) Node() *dkv.Node { return s.node }

// Serve registers the request handler and serves until Close.
func (s *RPCServer) Serve() error {
	s.transport.RegisterHandler(s.handle)
	Logger.Infof("Serving node %s on %s", s.node.Self(), s.config.Endpoint)
	return s.transport.Listen(s.config)
}

// Close stops the transport and releases everything the server owns.
func (s *RPCServer) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			errs = append(errs, err)
		}
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// handle is the transport handler: decode, dispatch, encode.
func (s *RPCServer) handle(ctx context.Context, from uint64, req []byte) []byte {
	var msg common.Message
	var resp *common.Message

	if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(store.Errorf(store.RetCProtocolViolation, "failed to deserialize request: %v", err))
	} else {
		resp = s.dispatch(ctx, from, &msg)
	}

	out, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("Failed to serialize %s response: %v", resp.MsgType, err)
		out, _ = s.serializer.Serialize(*common.NewErrorResponse(store.Errorf(store.RetCInternalError, "failed to serialize response: %v", err)))
	}
	return out
}

func (s *RPCServer) dispatch(ctx context.Context, from uint64, msg *common.Message) *common.Message {
	for _, a := range s.adapters {
		if a.Handles(msg.MsgType) {
			return a.Handle(ctx, from, msg)
		}
	}
	return common.NewErrorResponse(store.Errorf(store.RetCUnsupportedOperation, "unsupported message type: %s", msg.MsgType))
}
