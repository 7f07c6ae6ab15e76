package server

import (
	"context"

	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/rpc/common"
)

// NewIStoreServerAdapter serves the client messages (Set, Delete, Get, Has)
// with s. Any node accepts them and forwards to the key's home.
func NewIStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: s}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handles(t common.MessageType) bool {
	switch t {
	case common.MsgTKVSet, common.MsgTKVDelete, common.MsgTKVGet, common.MsgTKVHas:
		return true
	default:
		return false
	}
}

func (adapter *iStoreServerAdapterImpl) Handle(ctx context.Context, _ uint64, req *common.Message) *common.Message {
	if adapter.store == nil {
		return common.NewErrorResponse(store.Errorf(store.RetCInternalError, "handler: store is nil"))
	}

	switch req.MsgType {
	case common.MsgTKVSet:
		value := req.Value
		if value == nil {
			// serializers may drop empty slices
			value = []byte{}
		}
		return common.NewSuccessResponse(adapter.store.Set(ctx, req.Key, value))
	case common.MsgTKVDelete:
		return common.NewSuccessResponse(adapter.store.Delete(ctx, req.Key))
	case common.MsgTKVGet:
		val, ok, err := adapter.store.Get(ctx, req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := adapter.store.Has(ctx, req.Key)
		return common.NewHasResponse(ok, err)
	default:
		return common.NewErrorResponse(store.Errorf(store.RetCUnsupportedOperation, "unsupported message type: %s", req.MsgType))
	}
}
