package task

import (
	"context"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/store/table"
	"github.com/ValentinKolb/ckv/lib/util"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/puzpuzpuz/xsync/v3"
)

// fetch is one outstanding GET shared by every local caller of the key.
type fetch struct {
	done chan struct{}
	val  *value.Value
	err  error
}

// Getter fetches keys from their home node on behalf of this node.
type Getter struct {
	table    *table.Table
	putter   *Putter
	caller   Caller
	metrics  *Metrics
	inflight *xsync.MapOf[key.Key, *fetch]
}

// NewGetter creates a getter installing fetched values into t. Local writes
// in flight are looked up in p.
func NewGetter(t *table.Table, p *Putter, c Caller, m *Metrics) *Getter {
	return &Getter{
		table:    t,
		putter:   p,
		caller:   c,
		metrics:  m,
		inflight: xsync.NewMapOf[key.Key, *fetch](),
	}
}

// Get fetches k from home. Callers arriving while a fetch of k is in flight
// wait for it and share its result. The fetch itself is bounded by the
// transport timeout, not by the context of the caller that started it. The result is the value now visible on
// this node, which is the local one if a local write raced the fetch.
func (g *Getter) Get(ctx context.Context, home cluster.Node, k key.Key) (*value.Value, error) {
	f := &fetch{done: make(chan struct{})}
	if cur, loaded := g.inflight.LoadOrStore(k, f); loaded {
		g.metrics.CoalescedGets.Inc()
		if err := util.ManagedBlock(ctx, util.ChanBlocker(cur.done)); err != nil {
			return nil, err
		}
		return cur.val, cur.err
	}

	// joiners share the result, the installer's cancellation must not
	// become theirs
	g.metrics.RemoteGets.Inc()
	v, lease, err := g.caller.GetKey(context.WithoutCancel(ctx), home, k)
	if err == nil {
		v = g.adopt(k, v)
	}
	f.val, f.err = v, err

	// compare-and-remove: only the installer clears its own entry
	g.inflight.Compute(k, func(cur *fetch, loaded bool) (*fetch, bool) {
		return cur, !loaded || cur == f
	})
	close(f.done)

	if lease != 0 {
		go g.ackAck(home, k, lease)
	}
	return v, err
}

// InFlight reports whether a fetch of k is outstanding.
func (g *Getter) InFlight(k key.Key) bool {
	_, ok := g.inflight.Load(k)
	return ok
}

// adopt installs a fetched value if the local slot is empty. A value that
// appeared locally in the meantime wins. If a local write of the key is in
// flight (a delete leaves the slot empty) the fetched value is withdrawn
// again, since the home may have answered before it saw that write.
func (g *Getter) adopt(k key.Key, v *value.Value) *value.Value {
	if v == nil {
		return nil
	}
	if w := g.table.PutIfMatch(k, v, nil); w != nil {
		return w
	}
	if g.putter.InFlight(k) {
		g.table.PutIfMatch(k, nil, v)
		return g.table.Get(k)
	}
	return v
}

func (g *Getter) ackAck(home cluster.Node, k key.Key, lease uint64) {
	if err := g.caller.AckAck(context.Background(), home, lease); err != nil {
		// the home releases the lease on expiry
		Logger.Warningf("ack-ack of %q to %s failed: %v", string(k), home, err)
	}
}
