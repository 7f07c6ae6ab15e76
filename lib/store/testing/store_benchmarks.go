package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/ValentinKolb/ckv/lib/store"
)

// RunStoreBenchmarks runs the benchmarks against a cloud created by factory.
func RunStoreBenchmarks(b *testing.B, name string, factory ClusterFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory(b))
		})
		b.Run("GetCached", func(b *testing.B) {
			benchmarkGetCached(b, factory(b))
		})
		b.Run("SetGetAcrossNodes", func(b *testing.B) {
			benchmarkSetGetAcrossNodes(b, factory(b))
		})
	})
}

func benchmarkSet(b *testing.B, stores []store.IStore) {
	ctx := context.Background()
	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := stores[i%len(stores)].Set(ctx, fmt.Sprintf("key-%d", i%1000), value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGetCached(b *testing.B, stores []store.IStore) {
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		mustSet(b, stores[0], fmt.Sprintf("key-%d", i), []byte("benchmark-value"))
	}
	// warm every cache
	for _, s := range stores {
		for i := 0; i < 1000; i++ {
			mustGet(b, s, fmt.Sprintf("key-%d", i))
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := stores[i%len(stores)].Get(ctx, fmt.Sprintf("key-%d", i%1000)); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSetGetAcrossNodes(b *testing.B, stores []store.IStore) {
	ctx := context.Background()
	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := fmt.Sprintf("key-%d", i%100)
		if err := stores[i%len(stores)].Set(ctx, k, value); err != nil {
			b.Fatal(err)
		}
		if _, _, err := stores[(i+1)%len(stores)].Get(ctx, k); err != nil {
			b.Fatal(err)
		}
	}
}
