package table

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/persist/nfs"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/spf13/afero"
)

func newValue(t *testing.T, k string, size int, tag persist.Tag) *value.Value {
	t.Helper()
	v, err := value.New(key.Key(k), make([]byte, size), tag)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// TestPutIfMatch tests the witness semantics
func TestPutIfMatch(t *testing.T) {
	tbl := New()
	a := newValue(t, "k", 1, persist.TagNone)
	b := newValue(t, "k", 2, persist.TagNone)

	tests := []struct {
		name        string
		nv, old     *value.Value
		wantWitness *value.Value
		wantAfter   *value.Value
	}{
		{name: "Insert into empty", nv: a, old: nil, wantWitness: nil, wantAfter: a},
		{name: "Insert into occupied fails", nv: b, old: nil, wantWitness: a, wantAfter: a},
		{name: "Replace with wrong old fails", nv: b, old: b, wantWitness: a, wantAfter: a},
		{name: "Replace", nv: b, old: a, wantWitness: a, wantAfter: b},
		{name: "Remove", nv: nil, old: b, wantWitness: b, wantAfter: nil},
		{name: "Remove from empty with expected value", nv: nil, old: a, wantWitness: nil, wantAfter: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := tbl.PutIfMatch("k", tt.nv, tt.old); w != tt.wantWitness {
				t.Errorf("PutIfMatch() witness = %v, want %v", w, tt.wantWitness)
			}
			if got := tbl.Get("k"); got != tt.wantAfter {
				t.Errorf("Get() = %v, want %v", got, tt.wantAfter)
			}
		})
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tbl.Len())
	}
}

// TestConcurrentReplace tests that every Replace observes a distinct predecessor
func TestConcurrentReplace(t *testing.T) {
	tbl := New()
	const n = 64
	seen := make(chan *value.Value, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- tbl.Replace("k", newValue(t, "k", 1, persist.TagNone))
		}()
	}
	wg.Wait()
	close(seen)

	olds := make(map[*value.Value]bool)
	nils := 0
	for v := range seen {
		if v == nil {
			nils++
			continue
		}
		if olds[v] {
			t.Fatal("two writers replaced the same value")
		}
		olds[v] = true
	}
	if nils != 1 {
		t.Errorf("%d writers found the slot empty, want 1", nils)
	}
}

// TestCleaner tests that the cleaner frees persisted home values and drops replicas
func TestCleaner(t *testing.T) {
	backend, err := nfs.New(afero.NewMemMapFs(), "/ckv")
	if err != nil {
		t.Fatal(err)
	}
	reg := persist.NewRegistry()
	reg.Register(persist.TagNFS, backend)

	tbl := New()
	homeKeys := map[key.Key]bool{"home-nfs": true, "home-transient": true}
	homeNFS := newValue(t, "home-nfs", 100, persist.TagNFS)
	homeTransient := newValue(t, "home-transient", 100, persist.TagNone)
	replica := newValue(t, "replica", 100, persist.TagNone)
	replica.MarkRemoteDone()
	inflight := newValue(t, "inflight", 100, persist.TagNone)

	for _, v := range []*value.Value{homeNFS, homeTransient, replica, inflight} {
		tbl.PutIfMatch(v.Key(), v, nil)
	}

	c := NewCleaner(tbl, reg, func(k key.Key) bool { return homeKeys[k] }, 50)
	if freed := c.Sweep(); freed != 200 {
		t.Errorf("Sweep() freed %d bytes, want 200", freed)
	}
	if homeNFS.Mem() != nil || !homeNFS.IsPersisted() || tbl.Get("home-nfs") != homeNFS {
		t.Error("persistable home value should be written and freed but kept in the table")
	}
	if homeTransient.Cached() != 100 {
		t.Error("transient home value must never be freed")
	}
	if tbl.Get("replica") != nil {
		t.Error("cached replica should be dropped")
	}
	if tbl.Get("inflight") != inflight {
		t.Error("local write in flight must be kept")
	}

	b, err := homeNFS.MemOrLoad(reg)
	if err != nil || len(b) != 100 {
		t.Errorf("reload after free = %d bytes, %v", len(b), err)
	}

	info := tbl.Info()
	if info.Keys != 3 || info.Persisted != 1 {
		t.Errorf("Info() = %+v", info)
	}
}
