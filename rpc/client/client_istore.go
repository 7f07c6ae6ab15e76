package client

import (
	"context"

	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
)

// NewRPCStore creates a store.IStore forwarding every operation to the ckv
// nodes behind config.Endpoints. Any node serves any key.
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			from:       common.ClientSender,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := i.invoke(ctx, common.NewSetRequest(key, value))
	return err
}

func (i *rpcStore) Delete(ctx context.Context, key string) error {
	_, err := i.invoke(ctx, common.NewDeleteRequest(key))
	return err
}

func (i *rpcStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := i.invoke(ctx, common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	if !resp.Ok {
		return nil, false, nil
	}
	if resp.Value == nil {
		// serializers may drop empty slices
		return []byte{}, true, nil
	}
	return resp.Value, true, nil
}

func (i *rpcStore) Has(ctx context.Context, key string) (bool, error) {
	resp, err := i.invoke(ctx, common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Close closes the underlying transport.
func (i *rpcStore) Close() error {
	return i.transport.Close()
}
