package value

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/persist/nfs"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/spf13/afero"
)

func mustNew(t *testing.T, k string, mem []byte, tag persist.Tag) *Value {
	t.Helper()
	v, err := New(key.Key(k), mem, tag)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// TestReplicaTracking tests reader registration, release and the replica mask
func TestReplicaTracking(t *testing.T) {
	t.Run("All trackable nodes", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		for n := cluster.NodeIndex(0); n < cluster.MaxTrackedNodes; n++ {
			if !v.RegisterReader(n) {
				t.Fatalf("RegisterReader(%d) failed on unlocked value", n)
			}
			v.ReleaseReader(n)
		}
		if v.NumReplicas() != cluster.MaxTrackedNodes {
			t.Errorf("NumReplicas() = %d, want %d", v.NumReplicas(), cluster.MaxTrackedNodes)
		}
		if v.Readers() != 0 {
			t.Errorf("Readers() = %d after all releases", v.Readers())
		}
	})

	t.Run("Untrackable node", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		defer func() {
			if recover() == nil {
				t.Error("RegisterReader(58) should panic")
			}
		}()
		v.RegisterReader(cluster.MaxTrackedNodes)
	})

	t.Run("Release without register", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		defer func() {
			if recover() == nil {
				t.Error("ReleaseReader() without RegisterReader() should panic")
			}
		}()
		v.ReleaseReader(3)
	})

	t.Run("Single replica seed", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		v.InitAsSingleReplica(7)
		if got := v.Replicas().Nodes(); len(got) != 1 || got[0] != 7 {
			t.Errorf("Replicas() = %v, want [7]", got)
		}
		if v.Readers() != 0 {
			t.Errorf("Readers() = %d, want 0", v.Readers())
		}
	})
}

// TestLockForInvalidation tests that locking waits for readers and blocks new ones
func TestLockForInvalidation(t *testing.T) {
	t.Run("Fast path", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		set, err := v.LockForInvalidation(context.Background())
		if err != nil || set != 0 {
			t.Fatalf("LockForInvalidation() = %v, %v", set, err)
		}
		if !v.IsLocked() || v.RegisterReader(1) {
			t.Error("locked value must refuse readers")
		}
	})

	t.Run("Waits for ack-ack", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		v.RegisterReader(2)
		v.RegisterReader(5)
		v.ReleaseReader(5)

		locked := make(chan ReplicaSet)
		go func() {
			set, err := v.LockForInvalidation(context.Background())
			if err != nil {
				t.Error(err)
			}
			locked <- set
		}()

		select {
		case <-locked:
			t.Fatal("locked while a reader was active")
		case <-time.After(20 * time.Millisecond):
		}

		v.ReleaseReader(2)
		select {
		case set := <-locked:
			if set.Len() != 2 || !set.Contains(2) || !set.Contains(5) {
				t.Errorf("replica set = %v, want {2,5}", set.Nodes())
			}
		case <-time.After(time.Second):
			t.Fatal("LockForInvalidation() did not wake up")
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		v.RegisterReader(1)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := v.LockForInvalidation(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("LockForInvalidation() = %v, want deadline exceeded", err)
		}
		if v.IsLocked() {
			t.Error("abandoned lock must leave the value unlocked")
		}
	})
}

// TestConcurrentReaders tests the reader count under contention
func TestConcurrentReaders(t *testing.T) {
	v := mustNew(t, "k", []byte("x"), persist.TagNone)
	var wg sync.WaitGroup
	for n := cluster.NodeIndex(0); n < 40; n++ {
		wg.Add(1)
		go func(n cluster.NodeIndex) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if v.RegisterReader(n) {
					v.ReleaseReader(n)
				}
			}
		}(n)
	}
	wg.Wait()
	if v.Readers() != 0 || v.NumReplicas() != 40 {
		t.Errorf("Readers() = %d, NumReplicas() = %d", v.Readers(), v.NumReplicas())
	}
}

// TestRemotePutOrdering tests that a second write waits for the first
func TestRemotePutOrdering(t *testing.T) {
	t.Run("Done value does not block", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		v.CompleteRemotePut()
		if v.IsRemotePutInFlight() {
			t.Error("completed put still in flight")
		}
		if err := v.StartRemotePut(context.Background()); err != nil {
			t.Error(err)
		}
	})

	t.Run("Waiter woken on completion", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		if !v.IsRemotePutInFlight() {
			t.Fatal("new value should start in flight")
		}
		started := make(chan struct{})
		go func() {
			if err := v.StartRemotePut(context.Background()); err != nil {
				t.Error(err)
			}
			close(started)
		}()
		select {
		case <-started:
			t.Fatal("StartRemotePut() returned while in flight")
		case <-time.After(20 * time.Millisecond):
		}
		v.CompleteRemotePut()
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	})

	t.Run("Decoded values are done", func(t *testing.T) {
		v := mustNew(t, "k", []byte("x"), persist.TagNone)
		b, err := Encode(v, nil)
		if err != nil {
			t.Fatal(err)
		}
		d, err := Decode("k", b)
		if err != nil {
			t.Fatal(err)
		}
		if d.IsRemotePutInFlight() {
			t.Error("decoded value starts in flight")
		}
	})
}

// TestCodec tests the wire layout
func TestCodec(t *testing.T) {
	t.Run("Header layout", func(t *testing.T) {
		v := mustNew(t, "k", []byte("abc"), persist.TagNFS)
		b, err := Encode(v, nil)
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{'I', 4, 0, 0, 0, 3, 0, 0, 0, 3, 'a', 'b', 'c'}
		if !bytes.Equal(b, want) {
			t.Errorf("Encode() = %v, want %v", b, want)
		}
	})

	t.Run("Tombstone", func(t *testing.T) {
		for _, v := range []*Value{nil, Tombstone("k")} {
			b, err := Encode(v, nil)
			if err != nil || !bytes.Equal(b, []byte{0}) {
				t.Errorf("Encode(%v) = %v, %v", v, b, err)
			}
		}
		// nothing after the zero type byte is read
		for _, b := range [][]byte{{0}, {0, 0xff}, {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}} {
			v, err := Decode("k", b)
			if v != nil || err != nil {
				t.Errorf("Decode(%v) = %v, %v, want nil, nil", b, v, err)
			}
		}
	})

	t.Run("ICE values ship without the disk bit", func(t *testing.T) {
		v := mustNew(t, "k", []byte("abc"), persist.TagICE)
		v.persist.Store(uint32(v.Persist().WithPersisted()))
		b, err := Encode(v, nil)
		if err != nil {
			t.Fatal(err)
		}
		if persist.State(b[1]).IsPersisted() || persist.State(b[1]).Tag() != persist.TagICE {
			t.Errorf("persist byte = %08b", b[1])
		}
		if !v.IsPersisted() {
			t.Error("Encode() changed the local persist state")
		}
	})

	t.Run("Decode copies the payload", func(t *testing.T) {
		b := []byte{'I', 0, 0, 0, 0, 2, 0, 0, 0, 2, 'h', 'i'}
		v, err := Decode("k", b)
		if err != nil {
			t.Fatal(err)
		}
		b[10] = 'X'
		if string(v.Mem()) != "hi" || v.Max() != 2 || v.Type() != TypeBytes {
			t.Errorf("Decode() = %v", v)
		}
	})

	invalid := []struct {
		name string
		b    []byte
	}{
		{name: "Empty", b: nil},
		{name: "Short header", b: []byte{'I', 0, 0}},
		{name: "Truncated payload", b: []byte{'I', 0, 0, 0, 0, 5, 0, 0, 0, 5, 'a'}},
		{name: "Length above max", b: []byte{'I', 0, 0, 0, 0, 2, 0, 0, 0, 1, 'a', 'b'}},
		{name: "Too large", b: []byte{'I', 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}},
		{name: "Partial transient", b: []byte{'I', 0, 0, 0, 0, 1, 0, 0, 0, 2, 'a'}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode("k", tt.b); err == nil {
				t.Errorf("Decode(%v) should fail", tt.b)
			}
		})
	}
}

// TestPersistence tests lazy loading, freeing and prefix loads
func TestPersistence(t *testing.T) {
	backend, err := nfs.New(afero.NewMemMapFs(), "/ckv")
	if err != nil {
		t.Fatal(err)
	}
	reg := persist.NewRegistry()
	reg.Register(persist.TagNFS, backend)

	v := mustNew(t, "k", []byte("hello world"), persist.TagNFS)
	if n := v.FreeMem(); n != 0 {
		t.Fatalf("FreeMem() released %d bytes of an unpersisted value", n)
	}
	if err := v.StorePersist(reg); err != nil {
		t.Fatal(err)
	}
	if !v.IsPersisted() {
		t.Fatal("StorePersist() did not set the disk bit")
	}
	if n := v.FreeMem(); n != 11 || v.Mem() != nil {
		t.Fatalf("FreeMem() = %d, mem = %q", n, v.Mem())
	}

	prefix, err := v.Load(reg, 5)
	if err != nil || string(prefix) != "hello" {
		t.Fatalf("Load(5) = %q, %v", prefix, err)
	}
	full, err := v.MemOrLoad(reg)
	if err != nil || string(full) != "hello world" {
		t.Fatalf("MemOrLoad() = %q, %v", full, err)
	}
	// a shorter load must not replace the longer buffer
	if again, _ := v.Load(reg, 3); string(again) != "hello world" {
		t.Errorf("Load(3) after full load = %q", again)
	}

	t.Run("Missing backend", func(t *testing.T) {
		w := mustNew(t, "w", []byte("abc"), persist.TagS3)
		if err := w.StorePersist(reg); !errors.Is(err, store.ErrBackend) {
			t.Errorf("StorePersist() on S3 = %v, want backend failure", err)
		}
	})

	t.Run("Empty value", func(t *testing.T) {
		w := mustNew(t, "w", nil, persist.TagNone)
		b, err := w.MemOrLoad(nil)
		if err != nil || b == nil || len(b) != 0 {
			t.Errorf("MemOrLoad() = %v, %v", b, err)
		}
	})
}

func TestNewLimits(t *testing.T) {
	if _, err := New("k", make([]byte, MaxSize+1), persist.TagNone); !errors.Is(err, store.ErrValueTooLarge) {
		t.Errorf("New() oversized = %v", err)
	}
	if _, err := NewTyped("k", TypeTombstone, nil, persist.TagNone); err == nil {
		t.Error("NewTyped(tombstone) should fail")
	}
}
