package value

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
)

// MaxSize is the largest value that can be stored.
const MaxSize = 10 << 20

// Type of the payload.
type Type uint8

const (
	TypeTombstone Type = 0   // a deleted value, only seen on the wire
	TypeBytes     Type = 'I' // plain bytes
	TypeArray     Type = 'A' // header of a chunked array
)

func (t Type) String() string {
	switch t {
	case TypeTombstone:
		return "tombstone"
	case TypeBytes:
		return "bytes"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Value is a stored value. See the package documentation for the state word.
type Value struct {
	key        key.Key
	typ        Type
	max        int
	mem        atomic.Pointer[[]byte]
	persist    atomic.Uint32 // persist.State
	state      atomic.Uint64
	lastAccess atomic.Int64

	// mu and cond only put waiters to sleep; state changes are CAS only.
	mu   sync.Mutex
	cond *sync.Cond
}

func newValue(k key.Key, typ Type, max int, mem []byte, ps persist.State) *Value {
	v := &Value{key: k, typ: typ, max: max}
	v.cond = sync.NewCond(&v.mu)
	if mem != nil {
		v.mem.Store(&mem)
	}
	v.persist.Store(uint32(ps))
	v.Touch()
	return v
}

// New creates a value of type TypeBytes holding mem, to be persisted on
// backend tag (TagNone for transient values). The slice is not copied.
func New(k key.Key, mem []byte, tag persist.Tag) (*Value, error) {
	return NewTyped(k, TypeBytes, mem, tag)
}

// NewTyped is New with an explicit type.
func NewTyped(k key.Key, typ Type, mem []byte, tag persist.Tag) (*Value, error) {
	if typ == TypeTombstone {
		return nil, store.Errorf(store.RetCInvalidOperation, "value: %q: tombstones have no payload", k)
	}
	if len(mem) > MaxSize {
		return nil, store.Errorf(store.RetCValueTooLarge, "value: %q: %d bytes exceeds %d", k, len(mem), MaxSize)
	}
	if mem == nil {
		mem = []byte{}
	}
	return newValue(k, typ, len(mem), mem, persist.NewState(tag)), nil
}

// Tombstone returns a deleted marker for k. It carries the remote put state
// of a local delete on a non-home node.
func Tombstone(k key.Key) *Value {
	return newValue(k, TypeTombstone, 0, []byte{}, persist.NewState(persist.TagNone))
}

func (v *Value) Key() key.Key      { return v.key }
func (v *Value) Type() Type        { return v.typ }
func (v *Value) Max() int          { return v.max }
func (v *Value) IsTombstone() bool { return v.typ == TypeTombstone }

// Persist returns the persist byte.
func (v *Value) Persist() persist.State { return persist.State(v.persist.Load()) }

// IsPersisted reports whether the backend holds a copy.
func (v *Value) IsPersisted() bool { return v.Persist().IsPersisted() }

// Touch records an access for the cleaner.
func (v *Value) Touch() { v.lastAccess.Store(time.Now().UnixNano()) }

// LastAccess returns the time of the last Touch.
func (v *Value) LastAccess() time.Time { return time.Unix(0, v.lastAccess.Load()) }

func (v *Value) String() string {
	return fmt.Sprintf("Value{key=%q type=%s len=%d/%d persist=%s/%v}",
		string(v.key), v.typ, v.cachedLen(), v.max, v.Persist().Tag(), v.IsPersisted())
}

// --------------------------------------------------------------------------
// persist.Descriptor
// --------------------------------------------------------------------------

type descriptor struct{ v *Value }

func (d descriptor) Key() string { return string(d.v.key) }
func (d descriptor) Max() int    { return d.v.max }
func (d descriptor) Mem() []byte { return d.v.Mem() }

// --------------------------------------------------------------------------
// Memory and persistence
// --------------------------------------------------------------------------

// Mem returns the cached bytes without loading. The result is nil if the
// bytes were freed and may be a prefix if only part was loaded.
func (v *Value) Mem() []byte {
	if p := v.mem.Load(); p != nil {
		return *p
	}
	return nil
}

func (v *Value) cachedLen() int {
	if p := v.mem.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// Cached returns the number of bytes currently held in memory.
func (v *Value) Cached() int { return v.cachedLen() }

// MemOrLoad returns all bytes of the value, loading them if needed.
func (v *Value) MemOrLoad(reg *persist.Registry) ([]byte, error) {
	return v.Load(reg, v.max)
}

// Load returns at least the first length bytes (clamped to Max), loading from
// the backend when fewer are cached. Concurrent loads are idempotent: the
// longest buffer wins.
func (v *Value) Load(reg *persist.Registry, length int) ([]byte, error) {
	if length > v.max {
		length = v.max
	}
	if p := v.mem.Load(); p != nil && len(*p) >= length {
		return *p, nil
	}
	if v.max == 0 {
		return []byte{}, nil
	}
	ps := v.Persist()
	if !ps.IsPersisted() {
		return nil, store.Errorf(store.RetCBackendFailure, "value: %q: neither cached nor persisted", v.key)
	}
	b, err := reg.Backend(ps.Tag())
	if err != nil {
		return nil, store.Errorf(store.RetCBackendFailure, "value: %q: %v", v.key, err)
	}
	loaded, err := b.Load(descriptor{v}, length)
	if err != nil {
		return nil, store.Errorf(store.RetCBackendFailure, "value: %q: %v", v.key, err)
	}
	if len(loaded) > v.max {
		loaded = loaded[:v.max]
	}
	persist.Logger.Debugf("loaded %d bytes of %q from %s", len(loaded), string(v.key), b.Name())
	return v.installLonger(loaded), nil
}

// installLonger publishes buf unless a buffer at least as long is cached.
func (v *Value) installLonger(buf []byte) []byte {
	for {
		cur := v.mem.Load()
		if cur != nil && len(*cur) >= len(buf) {
			return *cur
		}
		if v.mem.CompareAndSwap(cur, &buf) {
			return buf
		}
	}
}

// StorePersist writes the value to its backend. It is a no-op for transient
// or already persisted values.
func (v *Value) StorePersist(reg *persist.Registry) error {
	ps := v.Persist()
	if ps.Tag() == persist.TagNone || ps.IsPersisted() {
		return nil
	}
	b, err := reg.Backend(ps.Tag())
	if err != nil {
		return store.Errorf(store.RetCBackendFailure, "value: %q: %v", v.key, err)
	}
	if v.cachedLen() < v.max {
		return store.Errorf(store.RetCBackendFailure, "value: %q: cannot store a partially cached value", v.key)
	}
	if err := b.Store(descriptor{v}); err != nil {
		return store.Errorf(store.RetCBackendFailure, "value: %q: %v", v.key, err)
	}
	for {
		cur := v.persist.Load()
		if v.persist.CompareAndSwap(cur, uint32(persist.State(cur).WithPersisted())) {
			return nil
		}
	}
}

// RemovePersist deletes the local disk copy of a replaced value. Only ICE
// values are owned by this node; other backends are shared and left alone.
func (v *Value) RemovePersist(reg *persist.Registry) error {
	ps := v.Persist()
	if ps.Tag() != persist.TagICE || !ps.IsPersisted() {
		return nil
	}
	b, err := reg.Backend(persist.TagICE)
	if err != nil {
		return store.Errorf(store.RetCBackendFailure, "value: %q: %v", v.key, err)
	}
	if err := b.Delete(descriptor{v}); err != nil {
		return store.Errorf(store.RetCBackendFailure, "value: %q: %v", v.key, err)
	}
	for {
		cur := v.persist.Load()
		if v.persist.CompareAndSwap(cur, uint32(persist.State(cur).WithoutPersisted())) {
			return nil
		}
	}
}

// FreeMem drops the cached bytes of a persisted value. It returns the number
// of bytes released; values without a durable copy are kept.
func (v *Value) FreeMem() int {
	if !v.IsPersisted() || v.max == 0 {
		return 0
	}
	cur := v.mem.Load()
	if cur == nil || !v.mem.CompareAndSwap(cur, nil) {
		return 0
	}
	return len(*cur)
}
