package task

import (
	"context"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/puzpuzpuz/xsync/v3"
)

// Putter sends this node's writes to their home node, one at a time per key.
type Putter struct {
	caller  Caller
	metrics *Metrics
	writes  *xsync.MapOf[key.Key, *value.Value] // latest local write per key
}

func NewPutter(c Caller, m *Metrics) *Putter {
	return &Putter{
		caller:  c,
		metrics: m,
		writes:  xsync.NewMapOf[key.Key, *value.Value](),
	}
}

// Put sends v, a freshly created value or a tombstone, to home and returns
// once the home acknowledged it, i.e. after every other cached copy of k was
// invalidated. A previous write of k from this node is acknowledged first.
func (p *Putter) Put(ctx context.Context, home cluster.Node, k key.Key, v *value.Value) error {
	return p.Send(ctx, home, k, v, p.Register(k, v))
}

// Register makes v the latest local write of k and returns the write it
// has to wait for. Writers register before they change the local table.
func (p *Putter) Register(k key.Key, v *value.Value) (prev *value.Value) {
	prev, _ = p.writes.LoadAndStore(k, v)
	return prev
}

// Send waits for prev and sends v to home. See Put.
func (p *Putter) Send(ctx context.Context, home cluster.Node, k key.Key, v, prev *value.Value) error {
	if prev != nil {
		if err := prev.StartRemotePut(ctx); err != nil {
			// keep the chain intact for later writes
			go func() {
				_ = prev.StartRemotePut(context.Background())
				p.complete(k, v)
			}()
			return err
		}
	}

	send := v
	if v.IsTombstone() {
		send = nil
	}
	start := time.Now()
	p.metrics.RemotePuts.Inc()
	err := p.caller.PutKey(ctx, home, k, send)
	p.metrics.RemotePutDuration.UpdateDuration(start)
	p.complete(k, v)
	return err
}

func (p *Putter) complete(k key.Key, v *value.Value) {
	v.CompleteRemotePut()
	p.writes.Compute(k, func(cur *value.Value, loaded bool) (*value.Value, bool) {
		return cur, !loaded || cur == v
	})
}

// InFlight reports whether a local write of k awaits its acknowledgement.
func (p *Putter) InFlight(k key.Key) bool {
	_, ok := p.writes.Load(k)
	return ok
}

// Latest returns the latest local write of k still in flight, or nil.
func (p *Putter) Latest(k key.Key) *value.Value {
	v, _ := p.writes.Load(k)
	return v
}
