package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores all data needed to talk to one set of endpoints.
// Used by the RPC store and the peer set with composition pattern
type rpcClientAdapter struct {
	from       uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

func (a *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(ctx, a.from, req, a.transport, a.serializer)
}

// invokeRPCRequest sends req and returns the response message.
// Errors carried by the response are returned as *store.Error. A response of
// an unexpected type is reported as a protocol violation.
// Transport failures are reported as store.ErrUnavailable.
func invokeRPCRequest(ctx context.Context, from uint64, req *common.Message, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := s.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("rpc: serialize %s: %w", req.MsgType, err)
	}

	respBytes, err := t.Send(ctx, from, reqBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, store.Errorf(store.RetCUnavailable, "%s: %v", req.MsgType, err)
	}

	resp := &common.Message{}
	if err := s.Deserialize(respBytes, resp); err != nil {
		return nil, store.Errorf(store.RetCProtocolViolation, "%s: malformed response: %v", req.MsgType, err)
	}

	if err := resp.Error(); err != nil {
		return nil, err
	}

	if want := req.MsgType.ResponseType(); resp.MsgType != want {
		return nil, store.Errorf(store.RetCProtocolViolation, "unexpected message type %s, expected %s", resp.MsgType, want)
	}
	return resp, nil
}
