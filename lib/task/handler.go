package task

import (
	"context"
	"runtime"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/store/table"
	"github.com/ValentinKolb/ckv/lib/util"
	"github.com/ValentinKolb/ckv/lib/value"
)

// Handler answers protocol requests from other nodes.
type Handler struct {
	cloud    cluster.Membership
	table    *table.Table
	backends *persist.Registry
	caller   Caller
	leases   *Leases
	metrics  *Metrics
}

// NewHandler creates the request handler of the local node.
func NewHandler(cloud cluster.Membership, t *table.Table, backends *persist.Registry, c Caller, leaseTTL time.Duration, m *Metrics) *Handler {
	return &Handler{
		cloud:    cloud,
		table:    t,
		backends: backends,
		caller:   c,
		leases:   NewLeases(leaseTTL, m),
		metrics:  m,
	}
}

// Leases returns the lease table of this node.
func (h *Handler) Leases() *Leases { return h.leases }

func (h *Handler) checkSender(sender cluster.NodeIndex) error {
	if _, ok := h.cloud.Node(sender); !ok {
		return store.Errorf(store.RetCProtocolViolation, "request from unknown node %d", sender)
	}
	return nil
}

// HandleGetKey answers a GET from sender. The sender is registered as a
// reader of the returned value; the lease must come back via HandleAckAck.
// A nil value means the key does not exist.
func (h *Handler) HandleGetKey(ctx context.Context, sender cluster.NodeIndex, k key.Key) (*value.Value, uint64, error) {
	if err := h.checkSender(sender); err != nil {
		return nil, 0, err
	}
	if !k.IsHome(h.cloud) {
		Logger.Errorf("GET of %q from node %d routed to non-home node", string(k), sender)
		return nil, 0, store.Errorf(store.RetCProtocolViolation, "%s is not the home of %q", h.cloud.Self(), string(k))
	}
	for {
		v := h.table.Get(k)
		if v == nil {
			return nil, 0, nil
		}
		if sender == h.cloud.Self().Index {
			return v, 0, nil
		}
		if v.RegisterReader(sender) {
			h.metrics.LeasesGranted.Inc()
			return v, h.leases.Grant(v, sender), nil
		}
		// locked by a PUT which already installed its successor
		h.metrics.HomeGetRetries.Inc()
		runtime.Gosched()
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
	}
}

// HandleAckAck ends a lease granted by HandleGetKey. Unknown leases are
// ignored; a duplicate ack-ack or one arriving after expiry is expected.
func (h *Handler) HandleAckAck(sender cluster.NodeIndex, lease uint64) error {
	if err := h.checkSender(sender); err != nil {
		return err
	}
	if !h.leases.Release(sender, lease) {
		Logger.Debugf("ack-ack for unknown lease %d from node %d", lease, sender)
	}
	return nil
}

// HandlePutKey applies a PUT from sender. On the home node v replaces the
// current value and every other cached copy is invalidated before it
// returns. On any other node only invalidations (v == nil) sent by the home
// of k are valid.
func (h *Handler) HandlePutKey(ctx context.Context, sender cluster.NodeIndex, k key.Key, v *value.Value) error {
	if err := h.checkSender(sender); err != nil {
		return err
	}
	if home := k.Home(h.cloud); home.Index != h.cloud.Self().Index {
		if v != nil {
			Logger.Errorf("PUT of %q from node %d routed to non-home node", string(k), sender)
			return store.Errorf(store.RetCProtocolViolation, "%s is not the home of %q", h.cloud.Self(), string(k))
		}
		if sender != home.Index {
			Logger.Errorf("invalidation of %q from node %d, home is %s", string(k), sender, home)
			return store.Errorf(store.RetCProtocolViolation, "node %d is not the home of %q", sender, string(k))
		}
		h.table.Replace(k, nil)
		return nil
	}

	if v != nil {
		if sender == h.cloud.Self().Index {
			v.InitAsHome()
		} else {
			v.InitAsSingleReplica(sender)
		}
	}
	old := h.table.Replace(k, v)
	if old == nil {
		return nil
	}
	return h.Invalidate(ctx, sender, k, old)
}

// Invalidate locks the replaced value old and removes the cached copy of k
// from every node except sender. It blocks until all of them acknowledged.
// The old value's disk copy is deleted afterwards if nothing replaced it.
func (h *Handler) Invalidate(ctx context.Context, sender cluster.NodeIndex, k key.Key, old *value.Value) error {
	// a PUT that replaced a value must finish invalidating it
	ctx = context.WithoutCancel(ctx)
	set, err := old.LockForInvalidation(ctx)
	if err != nil {
		return err
	}
	set = set.Without(sender)

	var fs util.Futures
	for _, idx := range set.Nodes() {
		node, ok := h.cloud.Node(idx)
		if !ok {
			continue
		}
		h.metrics.Invalidations.Inc()
		fs.Go(func() error {
			return h.caller.PutKey(ctx, node, k, nil)
		})
	}
	if err := fs.BlockForPending(ctx); err != nil {
		// the write stands; an unreachable replica is a membership problem
		h.metrics.InvalidationFailure.Inc()
		Logger.Errorf("invalidating %q failed: %v", string(k), err)
	}

	h.removePersisted(k, old)
	return nil
}

// removePersisted deletes the disk copy of a replaced value unless the
// current value of k is an ICE value, which owns the same disk slot.
func (h *Handler) removePersisted(k key.Key, old *value.Value) {
	if old.Persist().Tag() != persist.TagICE || !old.IsPersisted() {
		return
	}
	h.table.Inspect(k, func(cur *value.Value) {
		if cur != nil && cur.Persist().Tag() == persist.TagICE {
			return
		}
		if err := old.RemovePersist(h.backends); err != nil {
			Logger.Warningf("removing replaced %q from disk: %v", string(k), err)
		}
	})
}
