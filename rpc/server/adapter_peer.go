package server

import (
	"context"
	"math"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/task"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/ValentinKolb/ckv/rpc/common"
)

// NewPeerServerAdapter serves the replication messages (GetKey, PutKey,
// AckAck) with the node's protocol handler. Values cross the wire in the
// value wire format; backends loads freed payloads before encoding.
func NewPeerServerAdapter(h *task.Handler, backends *persist.Registry) IRPCServerAdapter {
	return &peerServerAdapter{handler: h, backends: backends}
}

type peerServerAdapter struct {
	handler  *task.Handler
	backends *persist.Registry
}

func (adapter *peerServerAdapter) Handles(t common.MessageType) bool {
	switch t {
	case common.MsgTGetKey, common.MsgTPutKey, common.MsgTAckAck:
		return true
	default:
		return false
	}
}

func (adapter *peerServerAdapter) Handle(ctx context.Context, from uint64, req *common.Message) *common.Message {
	if from > math.MaxUint8 {
		// clients (common.ClientSender) never take part in replication
		return common.NewErrorResponse(store.Errorf(store.RetCProtocolViolation, "%s from non-member %d", req.MsgType, from))
	}
	sender := cluster.NodeIndex(from)

	switch req.MsgType {
	case common.MsgTGetKey:
		k := key.Key(req.Key)
		v, lease, err := adapter.handler.HandleGetKey(ctx, sender, k)
		if err != nil || v == nil {
			return common.NewGetKeyResponse(nil, lease, err)
		}
		b, err := value.Encode(v, adapter.backends)
		if err != nil {
			// the reader never learns about the lease
			if lease != 0 {
				_ = adapter.handler.HandleAckAck(sender, lease)
			}
			return common.NewErrorResponse(store.Errorf(store.RetCBackendFailure, "encode %q: %v", req.Key, err))
		}
		return common.NewGetKeyResponse(b, lease, nil)

	case common.MsgTPutKey:
		k := key.Key(req.Key)
		v, err := value.Decode(k, req.Value)
		if err != nil {
			return common.NewErrorResponse(store.Errorf(store.RetCProtocolViolation, "%v", err))
		}
		return common.NewSuccessResponse(adapter.handler.HandlePutKey(ctx, sender, k, v))

	case common.MsgTAckAck:
		return common.NewSuccessResponse(adapter.handler.HandleAckAck(sender, req.Lease))

	default:
		return common.NewErrorResponse(store.Errorf(store.RetCUnsupportedOperation, "unsupported message type: %s", req.MsgType))
	}
}
