package task

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/patrickmn/go-cache"
)

// Leases tracks the GETs between ack and ack-ack on the home node. Each
// lease holds one reader registration on a value; the registration is
// released exactly once, on ack-ack or when the lease expires.
type Leases struct {
	c    *cache.Cache
	next atomic.Uint64
}

type lease struct {
	v      *value.Value
	reader cluster.NodeIndex
	acked  atomic.Bool
}

// NewLeases creates a lease table whose leases expire after ttl.
func NewLeases(ttl time.Duration, m *Metrics) *Leases {
	if ttl < time.Second {
		ttl = time.Second
	}
	c := cache.New(ttl, ttl/2)
	c.OnEvicted(func(id string, x interface{}) {
		l := x.(*lease)
		if !l.acked.Load() {
			Logger.Warningf("lease %s of node %d on %q expired without ack-ack", id, l.reader, string(l.v.Key()))
			m.LeasesExpired.Inc()
		}
		l.v.ReleaseReader(l.reader)
	})
	return &Leases{c: c}
}

// Grant records a registered reader and returns its lease id (never zero).
func (l *Leases) Grant(v *value.Value, reader cluster.NodeIndex) uint64 {
	id := l.next.Add(1)
	l.c.Set(strconv.FormatUint(id, 10), &lease{v: v, reader: reader}, cache.DefaultExpiration)
	return id
}

// Release ends the lease id held by reader. It reports false for unknown
// (already released or expired) leases and for leases of another reader.
func (l *Leases) Release(reader cluster.NodeIndex, id uint64) bool {
	k := strconv.FormatUint(id, 10)
	x, ok := l.c.Get(k)
	if !ok {
		return false
	}
	ls := x.(*lease)
	if ls.reader != reader {
		return false
	}
	ls.acked.Store(true)
	l.c.Delete(k)
	return true
}

// Len returns the number of open leases.
func (l *Leases) Len() int { return l.c.ItemCount() }

// Expire releases every lease past its deadline now.
func (l *Leases) Expire() { l.c.DeleteExpired() }

// Flush releases all leases, e.g. on shutdown.
func (l *Leases) Flush() {
	for id, item := range l.c.Items() {
		item.Object.(*lease).acked.Store(true)
		l.c.Delete(id)
	}
}
