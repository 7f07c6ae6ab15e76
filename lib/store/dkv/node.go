package dkv

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/store/table"
	"github.com/ValentinKolb/ckv/lib/task"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dkv")

// Config configures a node.
type Config struct {
	// MaxValueSize is the largest value accepted by Set and PutValue.
	MaxValueSize int
	// LeaseTimeout bounds how long a GET without ack-ack keeps blocking writers.
	LeaseTimeout time.Duration
	// DefaultTag is the backend class of values written through Set.
	DefaultTag persist.Tag
}

// DefaultConfig returns the configuration used when fields are zero.
func DefaultConfig() Config {
	return Config{
		MaxValueSize: value.MaxSize,
		LeaseTimeout: 30 * time.Second,
		DefaultTag:   persist.TagNone,
	}
}

// Node is a ckv cloud member.
type Node struct {
	cfg      Config
	cloud    cluster.Membership
	table    *table.Table
	backends *persist.Registry
	handler  *task.Handler
	getter   *task.Getter
	putter   *task.Putter
	set      *metrics.Set
	m        *nodeMetrics
}

// New creates the node cloud.Self(). Requests to other members go through
// caller; backends may be nil if every value is transient.
func New(cloud cluster.Membership, caller task.Caller, backends *persist.Registry, cfg Config) *Node {
	def := DefaultConfig()
	if cfg.MaxValueSize <= 0 || cfg.MaxValueSize > value.MaxSize {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = def.LeaseTimeout
	}
	if backends == nil {
		backends = persist.NewRegistry()
	}

	set := metrics.NewSet()
	tm := task.NewMetrics(set, cloud.Self().Name)
	t := table.New()
	putter := task.NewPutter(caller, tm)

	n := &Node{
		cfg:      cfg,
		cloud:    cloud,
		table:    t,
		backends: backends,
		handler:  task.NewHandler(cloud, t, backends, caller, cfg.LeaseTimeout, tm),
		getter:   task.NewGetter(t, putter, caller, tm),
		putter:   putter,
		set:      set,
	}
	n.m = newNodeMetrics(set, n)
	Logger.Infof("node %s started (%d members)", cloud.Self(), len(cloud.Members()))
	return n
}

func (n *Node) Self() cluster.Node          { return n.cloud.Self() }
func (n *Node) Cloud() cluster.Membership   { return n.cloud }
func (n *Node) Table() *table.Table         { return n.table }
func (n *Node) Backends() *persist.Registry { return n.backends }
func (n *Node) Handler() *task.Handler      { return n.handler }
func (n *Node) Metrics() *metrics.Set       { return n.set }
func (n *Node) IsHome(k key.Key) bool       { return k.IsHome(n.cloud) }
func (n *Node) Home(k key.Key) cluster.Node { return k.Home(n.cloud) }
func (n *Node) Config() Config              { return n.cfg }

// Close releases all read leases held against this node.
func (n *Node) Close() error {
	n.handler.Leases().Flush()
	return nil
}

// --------------------------------------------------------------------------
// Value API
// --------------------------------------------------------------------------

// GetValue returns the value of k, or nil if k does not exist.
func (n *Node) GetValue(ctx context.Context, k key.Key) (*value.Value, error) {
	if v := n.table.Get(k); v != nil {
		n.m.localGets.Inc()
		v.Touch()
		return v, nil
	}
	if n.IsHome(k) {
		n.m.localGets.Inc()
		return nil, nil
	}
	// our own write of k is not acknowledged yet but its local copy was
	// invalidated by a concurrent write
	if w := n.putter.Latest(k); w != nil {
		n.m.localGets.Inc()
		if w.IsTombstone() {
			return nil, nil
		}
		return w, nil
	}
	n.m.remoteGets.Inc()
	return n.getter.Get(ctx, n.Home(k), k)
}

// PutValue writes v (nil deletes) under k. v must be freshly created for
// this write. The call returns once every other cached copy is invalidated.
func (n *Node) PutValue(ctx context.Context, k key.Key, v *value.Value) error {
	if v != nil {
		if v.Key() != k {
			return store.Errorf(store.RetCInvalidOperation, "value for %q stored under %q", string(v.Key()), string(k))
		}
		if v.Max() > n.cfg.MaxValueSize {
			return store.Errorf(store.RetCValueTooLarge, "%q: %d bytes exceeds %d", string(k), v.Max(), n.cfg.MaxValueSize)
		}
	}
	start := time.Now()
	defer n.m.putDuration.UpdateDuration(start)

	if n.IsHome(k) {
		n.m.homePuts.Inc()
		return n.handler.HandlePutKey(ctx, n.Self().Index, k, v)
	}

	n.m.remotePuts.Inc()
	token := v
	if token == nil {
		token = value.Tombstone(k)
	}
	prev := n.putter.Register(k, token)
	n.table.Replace(k, v)
	if err := n.putter.Send(ctx, n.Home(k), k, token, prev); err != nil {
		if v != nil {
			// the home never saw it
			n.table.PutIfMatch(k, nil, v)
		}
		return fmt.Errorf("put %q: %w", string(k), err)
	}
	return nil
}

// Remove deletes k.
func (n *Node) Remove(ctx context.Context, k key.Key) error { return n.PutValue(ctx, k, nil) }

// Evict drops the cached bytes of k. A home value is written to its backend
// first; a cached replica is removed from the table.
func (n *Node) Evict(k key.Key) error {
	v := n.table.Get(k)
	if v == nil {
		return nil
	}
	if n.IsHome(k) {
		if v.Persist().Tag() == persist.TagNone {
			return store.Errorf(store.RetCInvalidOperation, "%q is transient and cannot be evicted on its home", string(k))
		}
		if err := v.StorePersist(n.backends); err != nil {
			return err
		}
		v.FreeMem()
		return nil
	}
	if v.IsRemotePutInFlight() {
		return store.Errorf(store.RetCInvalidOperation, "%q has a write in flight", string(k))
	}
	n.table.PutIfMatch(k, nil, v)
	return nil
}

// StartCleaner bounds the bytes cached on this node to limit until ctx is done.
func (n *Node) StartCleaner(ctx context.Context, limit int64, interval time.Duration) {
	c := table.NewCleaner(n.table, n.backends, n.IsHome, limit)
	go c.Run(ctx, interval)
}

// --------------------------------------------------------------------------
// store.IStore
// --------------------------------------------------------------------------

var _ store.IStore = (*Node)(nil)

func (n *Node) Set(ctx context.Context, k string, b []byte) error {
	v, err := value.New(key.Key(k), bytes.Clone(b), n.cfg.DefaultTag)
	if err != nil {
		return err
	}
	return n.PutValue(ctx, key.Key(k), v)
}

func (n *Node) Get(ctx context.Context, k string) ([]byte, bool, error) {
	v, err := n.GetValue(ctx, key.Key(k))
	if err != nil || v == nil {
		return nil, false, err
	}
	b, err := v.MemOrLoad(n.backends)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (n *Node) Delete(ctx context.Context, k string) error { return n.Remove(ctx, key.Key(k)) }

func (n *Node) Has(ctx context.Context, k string) (bool, error) {
	v, err := n.GetValue(ctx, key.Key(k))
	return v != nil, err
}
