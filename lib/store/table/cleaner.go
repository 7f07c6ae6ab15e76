package table

import (
	"context"
	"sort"
	"time"

	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/value"
)

// Cleaner keeps the bytes cached by a table below a limit.
type Cleaner struct {
	table    *Table
	backends *persist.Registry
	isHome   func(key.Key) bool
	limit    int64
}

// NewCleaner creates a cleaner for t. isHome tells whether this node is the
// home of a key; limit is the cache budget in bytes.
func NewCleaner(t *Table, backends *persist.Registry, isHome func(key.Key) bool, limit int64) *Cleaner {
	return &Cleaner{table: t, backends: backends, isHome: isHome, limit: limit}
}

// Run sweeps every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

type candidate struct {
	k      key.Key
	v      *value.Value
	cached int
	access time.Time
}

// Sweep frees memory, least recently touched values first, until the cached
// bytes fit the limit. Home values are written to their backend before their
// bytes are dropped; transient home values are never freed. Cached replicas
// on other nodes are removed from the table, except local writes still in
// flight to their home. It returns the number of bytes released.
func (c *Cleaner) Sweep() int64 {
	var total int64
	var candidates []candidate
	c.table.Range(func(k key.Key, v *value.Value) bool {
		if n := v.Cached(); n > 0 {
			total += int64(n)
			candidates = append(candidates, candidate{k: k, v: v, cached: n, access: v.LastAccess()})
		}
		return true
	})
	if total <= c.limit {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].access.Before(candidates[j].access) })

	var freed int64
	for _, cd := range candidates {
		if total-freed <= c.limit {
			break
		}
		if c.table.Get(cd.k) != cd.v {
			// replaced since the scan
			continue
		}
		if c.isHome(cd.k) {
			if cd.v.Persist().Tag() == persist.TagNone {
				continue
			}
			if err := cd.v.StorePersist(c.backends); err != nil {
				Logger.Warningf("cleaner: cannot persist %q: %v", string(cd.k), err)
				continue
			}
			freed += int64(cd.v.FreeMem())
			continue
		}
		if cd.v.IsRemotePutInFlight() {
			continue
		}
		if c.table.PutIfMatch(cd.k, nil, cd.v) == cd.v {
			freed += int64(cd.cached)
		}
	}
	if freed > 0 {
		Logger.Infof("cleaner: released %d bytes (%d cached, limit %d)", freed, total, c.limit)
	}
	return freed
}
