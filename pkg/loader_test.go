package store

// © 2025 ehcache3 authors. MIT License.

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeHitSkipsLoader(t *testing.T) {
    clock := &fakeClock{}
    s := newTestStore(t, clock, nil)

    require.NoError(t, s.Put("k", "resident"))
    v, err := s.GetOrCompute(context.Background(), "k", func(context.Context, string) (string, error) {
        t.Fatal("loader must not run on a hit")
        return "", nil
    })
    require.NoError(t, err)
    assert.Equal(t, "resident", v)
}

func TestGetOrComputeDeduplicatesLoads(t *testing.T) {
    clock := &fakeClock{}
    s := newTestStore(t, clock, nil)

    var loads atomic.Int32
    gate := make(chan struct{})
    loader := func(_ context.Context, key string) (string, error) {
        loads.Add(1)
        <-gate
        return "loaded:" + key, nil
    }

    const callers = 16
    var wg sync.WaitGroup
    results := make([]string, callers)
    for i := 0; i < callers; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            v, err := s.GetOrCompute(context.Background(), "k", loader)
            assert.NoError(t, err)
            results[i] = v
        }(i)
    }

    // Let every caller pile up on the flight before the loader finishes.
    for loads.Load() == 0 {
        runtime.Gosched()
    }
    for i := 0; i < 1000; i++ {
        runtime.Gosched()
    }
    close(gate)
    wg.Wait()

    assert.Equal(t, int32(1), loads.Load())
    for _, v := range results {
        assert.Equal(t, "loaded:k", v)
    }

    v, ok, err := s.Get("k")
    require.NoError(t, err)
    require.True(t, ok)
    assert.Equal(t, "loaded:k", v)
}

func TestGetOrComputePropagatesLoaderError(t *testing.T) {
    clock := &fakeClock{}
    s := newTestStore(t, clock, nil)

    wantErr := assert.AnError
    _, err := s.GetOrCompute(context.Background(), "k", func(context.Context, string) (string, error) {
        return "", wantErr
    })
    require.ErrorIs(t, err, wantErr)

    present, err := s.ContainsKey("k")
    require.NoError(t, err)
    assert.False(t, present)
}
