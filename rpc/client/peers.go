package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// TransportFactory creates an unconnected client transport.
type TransportFactory func() transport.IRPCClientTransport

// PeerSet implements task.Caller over RPC. It keeps one client transport per
// peer, connected on first use.
type PeerSet struct {
	cloud      cluster.Membership
	backends   *persist.Registry
	factory    TransportFactory
	serializer serializer.IRPCSerializer
	config     common.ClientConfig
	peers      *xsync.MapOf[cluster.NodeIndex, *rpcClientAdapter]
}

// NewPeerSet creates the caller of the local node. backends is the node's
// registry, values freed from memory are loaded from it before sending.
// config supplies timeouts and retries; its endpoints are ignored.
func NewPeerSet(cloud cluster.Membership, backends *persist.Registry, factory TransportFactory, s serializer.IRPCSerializer, config common.ClientConfig) *PeerSet {
	return &PeerSet{
		cloud:      cloud,
		backends:   backends,
		factory:    factory,
		serializer: s,
		config:     config,
		peers:      xsync.NewMapOf[cluster.NodeIndex, *rpcClientAdapter](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see task.Caller)
// --------------------------------------------------------------------------

func (p *PeerSet) GetKey(ctx context.Context, target cluster.Node, k key.Key) (*value.Value, uint64, error) {
	peer, err := p.peer(target)
	if err != nil {
		return nil, 0, err
	}
	resp, err := peer.invoke(ctx, common.NewGetKeyRequest(k.String()))
	if err != nil {
		return nil, 0, err
	}
	if !resp.Ok {
		return nil, resp.Lease, nil
	}
	v, err := value.Decode(k, resp.Value)
	if err != nil {
		return nil, 0, store.Errorf(store.RetCProtocolViolation, "get %q from %s: %v", k.String(), target, err)
	}
	return v, resp.Lease, nil
}

func (p *PeerSet) PutKey(ctx context.Context, target cluster.Node, k key.Key, v *value.Value) error {
	peer, err := p.peer(target)
	if err != nil {
		return err
	}
	b, err := value.Encode(v, p.backends)
	if err != nil {
		return store.Errorf(store.RetCBackendFailure, "encode %q: %v", k.String(), err)
	}
	_, err = peer.invoke(ctx, common.NewPutKeyRequest(k.String(), b))
	return err
}

func (p *PeerSet) AckAck(ctx context.Context, target cluster.Node, lease uint64) error {
	peer, err := p.peer(target)
	if err != nil {
		return err
	}
	_, err = peer.invoke(ctx, common.NewAckAckRequest(lease))
	return err
}

// Close closes all peer transports.
func (p *PeerSet) Close() error {
	var firstErr error
	p.peers.Range(func(idx cluster.NodeIndex, a *rpcClientAdapter) bool {
		if err := a.transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.peers.Delete(idx)
		return true
	})
	return firstErr
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// peer returns the connected transport of target. A failed connect is not
// cached, the next call dials again.
func (p *PeerSet) peer(target cluster.Node) (*rpcClientAdapter, error) {
	if a, ok := p.peers.Load(target.Index); ok {
		return a, nil
	}
	if target.Index == p.cloud.Self().Index {
		return nil, store.Errorf(store.RetCInternalError, "request to self (%s)", target)
	}

	var connectErr error
	a, _ := p.peers.Compute(target.Index, func(old *rpcClientAdapter, loaded bool) (*rpcClientAdapter, bool) {
		if loaded {
			return old, false
		}
		cfg := p.config
		cfg.Endpoints = []string{target.Endpoint}
		t := p.factory()
		if err := t.Connect(cfg); err != nil {
			connectErr = err
			return nil, true
		}
		Logger.Debugf("Connected to peer %s", target)
		return &rpcClientAdapter{
			from:       uint64(p.cloud.Self().Index),
			config:     cfg,
			transport:  t,
			serializer: p.serializer,
		}, false
	})
	if connectErr != nil {
		return nil, store.Errorf(store.RetCUnavailable, "connect to %s: %v", target, connectErr)
	}
	if a == nil {
		return nil, fmt.Errorf("rpc: no transport for %s", target)
	}
	return a, nil
}
