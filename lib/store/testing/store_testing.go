package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/ckv/lib/store"
)

// ClusterFactory creates a new cloud and returns one store per member.
// Cleanup is registered on t.
type ClusterFactory func(t testing.TB) []store.IStore

// RunStoreTests runs the conformance suite.
func RunStoreTests(t *testing.T, name string, factory ClusterFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory(t))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(t))
		})

		t.Run("CrossNodeVisibility", func(t *testing.T) {
			testCrossNodeVisibility(t, factory(t))
		})

		t.Run("InvalidationOnWrite", func(t *testing.T) {
			testInvalidationOnWrite(t, factory(t))
		})

		t.Run("ProgramOrder", func(t *testing.T) {
			testProgramOrder(t, factory(t))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustSet(t testing.TB, s store.IStore, k string, v []byte) {
	t.Helper()
	if err := s.Set(context.Background(), k, v); err != nil {
		t.Fatalf("Set(%q) error: %v", k, err)
	}
}

func mustGet(t testing.TB, s store.IStore, k string) ([]byte, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), k)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", k, err)
	}
	return v, ok
}

func expectValue(t testing.TB, stores []store.IStore, k string, want []byte) {
	t.Helper()
	for i, s := range stores {
		got, ok := mustGet(t, s, k)
		if want == nil {
			if ok {
				t.Errorf("node %d: expected %q to be absent, got %q", i, k, got)
			}
			continue
		}
		if !ok {
			t.Errorf("node %d: expected %q to exist", i, k)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("node %d: %q = %q, want %q", i, k, got, want)
		}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, stores []store.IStore) {
	s := stores[0]
	testKey := "test-key"

	mustSet(t, s, testKey, []byte("test-value1"))
	expectValue(t, stores[:1], testKey, []byte("test-value1"))

	mustSet(t, s, testKey, []byte("test-value2"))
	expectValue(t, stores[:1], testKey, []byte("test-value2"))

	if _, ok := mustGet(t, s, "nonexistent-key"); ok {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// the caller's buffer is not shared with the store
	buf := []byte("original")
	mustSet(t, s, "copy-key", buf)
	buf[0] = 'X'
	expectValue(t, stores[:1], "copy-key", []byte("original"))
}

func testDelete(t *testing.T, stores []store.IStore) {
	ctx := context.Background()
	for i := range stores {
		k := fmt.Sprintf("delete-test-key-%d", i)
		mustSet(t, stores[i], k, []byte("delete-test-value"))
		expectValue(t, stores, k, []byte("delete-test-value"))

		if err := stores[i].Delete(ctx, k); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		expectValue(t, stores, k, nil)
	}
	if err := stores[0].Delete(ctx, "nonexistent-key"); err != nil {
		t.Errorf("Delete() of a missing key error: %v", err)
	}
}

func testHas(t *testing.T, stores []store.IStore) {
	ctx := context.Background()
	testKey := "has-exists-test-key"
	for _, s := range stores {
		if ok, err := s.Has(ctx, testKey); err != nil || ok {
			t.Errorf("Has() = %v, %v for missing key", ok, err)
		}
	}
	mustSet(t, stores[len(stores)-1], testKey, []byte("v"))
	for i, s := range stores {
		if ok, err := s.Has(ctx, testKey); err != nil || !ok {
			t.Errorf("node %d: Has() = %v, %v after Set", i, ok, err)
		}
	}
}

func testEdgeCases(t *testing.T, stores []store.IStore) {
	cases := []struct {
		name string
		key  string
		val  []byte
	}{
		{name: "Empty value", key: "empty-value", val: []byte{}},
		{name: "Empty key", key: "", val: []byte("empty key")},
		{name: "Binary key", key: "\x00\xff\x10key", val: []byte("binary")},
		{name: "Binary value", key: "binary-value", val: []byte{0, 1, 2, 0, 255}},
		{name: "Large value", key: "large-value", val: bytes.Repeat([]byte("0123456789abcdef"), 64*1024)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mustSet(t, stores[0], tc.key, tc.val)
			expectValue(t, stores, tc.key, tc.val)
		})
	}
}

func testCrossNodeVisibility(t *testing.T, stores []store.IStore) {
	for i, s := range stores {
		k := fmt.Sprintf("visible-%d", i)
		mustSet(t, s, k, []byte(k))
	}
	for i := range stores {
		k := fmt.Sprintf("visible-%d", i)
		expectValue(t, stores, k, []byte(k))
	}
}

// every node caches the key, then each node in turn overwrites it; once the
// write returned no node may read the old value
func testInvalidationOnWrite(t *testing.T, stores []store.IStore) {
	testKey := "invalidate-key"
	mustSet(t, stores[0], testKey, []byte("v-init"))
	expectValue(t, stores, testKey, []byte("v-init"))

	for i, s := range stores {
		want := []byte(fmt.Sprintf("v-%d", i))
		mustSet(t, s, testKey, want)
		expectValue(t, stores, testKey, want)
	}

	if err := stores[len(stores)-1].Delete(context.Background(), testKey); err != nil {
		t.Fatal(err)
	}
	expectValue(t, stores, testKey, nil)
}

// a goroutine always reads its own latest write
func testProgramOrder(t *testing.T, stores []store.IStore) {
	var wg sync.WaitGroup
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s store.IStore) {
			defer wg.Done()
			k := fmt.Sprintf("order-%d", i)
			for j := 0; j < 50; j++ {
				want := []byte(fmt.Sprintf("%d-%d", i, j))
				if err := s.Set(context.Background(), k, want); err != nil {
					t.Errorf("Set() error: %v", err)
					return
				}
				got, ok, err := s.Get(context.Background(), k)
				if err != nil || !ok || !bytes.Equal(got, want) {
					t.Errorf("node %d: read %q (%v, %v) after writing %q", i, got, ok, err, want)
					return
				}
			}
		}(i, s)
	}
	wg.Wait()
}

// concurrent writers to one key: after they finish every node reads the
// same value, and it is one of the written ones
func testConcurrentWriters(t *testing.T, stores []store.IStore) {
	testKey := "contended-key"
	var wg sync.WaitGroup
	written := make(map[string]bool)
	var mu sync.Mutex
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s store.IStore) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				v := fmt.Sprintf("w%d-%d", i, j)
				mu.Lock()
				written[v] = true
				mu.Unlock()
				if err := s.Set(context.Background(), testKey, []byte(v)); err != nil {
					t.Errorf("Set() error: %v", err)
					return
				}
				_, _, _ = s.Get(context.Background(), testKey)
			}
		}(i, s)
	}
	wg.Wait()

	first, ok := mustGet(t, stores[0], testKey)
	if !ok || !written[string(first)] {
		t.Fatalf("final value %q (exists=%v) was never written", first, ok)
	}
	expectValue(t, stores, testKey, first)
}
