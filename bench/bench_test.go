// Package bench provides reproducible micro-benchmarks for the off-heap
// store.  Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a *single* key/value shape so results
// are comparable across versions:
//   • Key   – string (hex of a uint64; exercises the codec + hash path)
//   • Value – 64-byte string payload
//
// We measure:
//   1. Put            – write-only workload
//   2. Get            – read-only workload (after warm-up)
//   3. GetParallel    – highly concurrent reads (b.RunParallel)
//   4. GetOrCompute   – 90% hits, 10% misses with loader cost
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is *only* for performance.
//
// © 2025 ehcache3 authors. MIT License.

package bench

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	store "github.com/skbansal/ehcache3/pkg"
)

/* -------------------------------------------------------------------------
   Test harness helpers
   ------------------------------------------------------------------------- */

const (
    capBytes = 256 << 20 // 256 MiB budget
    segments = 16
    keys     = 1 << 18 // 256k keys for dataset
)

var payload = strings.Repeat("x", 64)

func newTestStore(b *testing.B) *store.Store[string, string] {
    s, err := store.New[string, string](capBytes, segments,
        store.WithKeyCodec[string, string](store.StringCodec{}),
        store.WithValueCodec[string, string](store.StringCodec{}),
    )
    if err != nil {
        b.Fatal(err)
    }
    return s
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []string {
    rnd := rand.New(rand.NewSource(42))
    arr := make([]string, keys)
    for i := range arr {
        arr[i] = strconv.FormatUint(rnd.Uint64(), 16)
    }
    return arr
}()

/* -------------------------------------------------------------------------
   Benchmarks
   ------------------------------------------------------------------------- */

func BenchmarkPut(b *testing.B) {
    s := newTestStore(b)
    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        if err := s.Put(ds[i&(keys-1)], payload); err != nil {
            b.Fatal(err)
        }
    }
    s.Close()
}

func BenchmarkGet(b *testing.B) {
    s := newTestStore(b)
    for _, k := range ds {
        if err := s.Put(k, payload); err != nil {
            b.Fatal(err)
        }
    }
    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        _, _, _ = s.Get(ds[i&(keys-1)])
    }
    s.Close()
}

func BenchmarkGetParallel(b *testing.B) {
    s := newTestStore(b)
    for _, k := range ds {
        if err := s.Put(k, payload); err != nil {
            b.Fatal(err)
        }
    }
    b.ReportAllocs()
    b.ResetTimer()
    b.RunParallel(func(pb *testing.PB) {
        idx := rand.Intn(keys)
        for pb.Next() {
            idx = (idx + 1) & (keys - 1)
            _, _, _ = s.Get(ds[idx])
        }
    })
    s.Close()
}

func BenchmarkGetOrCompute(b *testing.B) {
    s := newTestStore(b)
    // Preload 90% of keys to simulate mixed hit/miss.
    for i, k := range ds {
        if i%10 != 0 { // 90% fill
            if err := s.Put(k, payload); err != nil {
                b.Fatal(err)
            }
        }
    }
    var loaderCnt atomic.Uint64
    loader := func(ctx context.Context, key string) (string, error) {
        loaderCnt.Add(1)
        return payload, nil
    }
    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        _, _ = s.GetOrCompute(context.Background(), ds[i&(keys-1)], loader)
    }
    s.Close()
    b.ReportMetric(float64(loaderCnt.Load())/float64(b.N)*100, "miss-%")
}
