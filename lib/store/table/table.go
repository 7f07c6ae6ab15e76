package table

import (
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/util"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("store")

// Table maps keys to the values this node holds.
type Table struct {
	m *xsync.MapOf[key.Key, *value.Value]
}

func New() *Table {
	return &Table{m: xsync.NewMapOf[key.Key, *value.Value]()}
}

// Get returns the value for k or nil.
func (t *Table) Get(k key.Key) *value.Value {
	v, _ := t.m.Load(k)
	return v
}

// PutIfMatch installs nv for k if the slot currently holds old (nil meaning
// empty). A nil nv removes the entry. The result is the value found in the
// slot: equal to old on success, the competing value otherwise.
func (t *Table) PutIfMatch(k key.Key, nv, old *value.Value) *value.Value {
	var witness *value.Value
	t.m.Compute(k, func(cur *value.Value, loaded bool) (*value.Value, bool) {
		witness = cur
		if cur != old {
			return cur, !loaded
		}
		return nv, nv == nil
	})
	return witness
}

// Replace installs nv unconditionally and returns the previous value.
func (t *Table) Replace(k key.Key, nv *value.Value) *value.Value {
	for {
		old := t.Get(k)
		if w := t.PutIfMatch(k, nv, old); w == old {
			return old
		}
	}
}

// Inspect calls fn with the current value of k (nil if absent) while no
// other goroutine can change the entry.
func (t *Table) Inspect(k key.Key, fn func(cur *value.Value)) {
	t.m.Compute(k, func(cur *value.Value, loaded bool) (*value.Value, bool) {
		fn(cur)
		return cur, !loaded
	})
}

// Range calls fn for every entry until fn returns false.
func (t *Table) Range(fn func(k key.Key, v *value.Value) bool) {
	t.m.Range(fn)
}

// Len returns the number of entries.
func (t *Table) Len() int { return t.m.Size() }

// Info describes the table contents.
type Info struct {
	Keys        int   `json:"keys"`
	CachedBytes int64 `json:"cached_bytes"`
	TotalBytes  int64 `json:"total_bytes"`
	Persisted   int   `json:"persisted"`
	MedianSize  int   `json:"median_size"`
	P99Size     int   `json:"p99_size"`
}

// Info scans the table.
func (t *Table) Info() Info {
	h := util.NewSizeHistogram()
	var info Info
	t.m.Range(func(_ key.Key, v *value.Value) bool {
		info.Keys++
		info.CachedBytes += int64(v.Cached())
		if v.IsPersisted() {
			info.Persisted++
		}
		h.AddSample(v.Max())
		return true
	})
	info.TotalBytes = h.Sum()
	info.MedianSize = h.PercentileEstimate(50)
	info.P99Size = h.PercentileEstimate(99)
	return info
}
