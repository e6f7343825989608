package store

// segment_test.go drives the table mechanics directly: probing, tombstone
// reuse, rehashing, flag bits and victim scans — without the facade's
// expiry and event layers in the way.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skbansal/ehcache3/internal/arena"
)

func newTestSegment(veto func(string, string) bool) *segment[string, string] {
    return newSegment[string, string](arena.New(1<<20, 4096), StringCodec{}, veto)
}

func segPut(t *testing.T, s *segment[string, string], key, value string) *ValueHolder[string] {
    t.Helper()
    kb := []byte(key)
    h, err := s.remap(key, kb, hashKey(kb), func(_ string, _ *ValueHolder[string]) (*ValueHolder[string], error) {
        return &ValueHolder[string]{expirationTime: NoExpire, value: value}, nil
    }, remapOpts[string, string]{})
    require.NoError(t, err)
    require.NotNil(t, h)
    return h
}

func segGet(t *testing.T, s *segment[string, string], key string) *ValueHolder[string] {
    t.Helper()
    kb := []byte(key)
    h, err := s.remap(key, kb, hashKey(kb), func(_ string, cur *ValueHolder[string]) (*ValueHolder[string], error) {
        return cur, nil
    }, remapOpts[string, string]{})
    require.NoError(t, err)
    return h
}

func segRemove(t *testing.T, s *segment[string, string], key string) {
    t.Helper()
    kb := []byte(key)
    _, err := s.remap(key, kb, hashKey(kb), func(_ string, _ *ValueHolder[string]) (*ValueHolder[string], error) {
        return nil, nil
    }, remapOpts[string, string]{})
    require.NoError(t, err)
}

func TestSegmentInstallUpdateRemove(t *testing.T) {
    s := newTestSegment(nil)

    h1 := segPut(t, s, "k", "v1")
    assert.Equal(t, int64(1), h1.ID())
    assert.Equal(t, "v1", h1.Value())
    assert.Equal(t, []byte("v1"), h1.BinaryValue())
    assert.Equal(t, int64(1), s.used.Load())

    h2 := segPut(t, s, "k", "v2")
    assert.Greater(t, h2.ID(), h1.ID())
    assert.Equal(t, int64(1), s.used.Load())

    got := segGet(t, s, "k")
    require.NotNil(t, got)
    assert.Equal(t, "v2", got.Value())

    segRemove(t, s, "k")
    assert.Equal(t, int64(0), s.used.Load())
    assert.Equal(t, int64(1), s.removed.Load())
    assert.Nil(t, segGet(t, s, "k"))
}

func TestSegmentRemapRunsOnceAndSeesCurrent(t *testing.T) {
    s := newTestSegment(nil)
    segPut(t, s, "k", "v1")

    calls := 0
    kb := []byte("k")
    _, err := s.remap("k", kb, hashKey(kb), func(_ string, cur *ValueHolder[string]) (*ValueHolder[string], error) {
        calls++
        require.NotNil(t, cur)
        assert.Equal(t, "v1", cur.Value())
        return cur, nil
    }, remapOpts[string, string]{})
    require.NoError(t, err)
    assert.Equal(t, 1, calls)
}

func TestSegmentRequirePresent(t *testing.T) {
    s := newTestSegment(nil)

    called := false
    kb := []byte("absent")
    h, err := s.remap("absent", kb, hashKey(kb), func(string, *ValueHolder[string]) (*ValueHolder[string], error) {
        called = true
        return nil, nil
    }, remapOpts[string, string]{requirePresent: true})
    require.NoError(t, err)
    assert.Nil(t, h)
    assert.False(t, called)
}

func TestSegmentTombstoneReuseAndGrowth(t *testing.T) {
    s := newTestSegment(nil)

    for i := 0; i < 200; i++ {
        segPut(t, s, fmt.Sprintf("k%03d", i), "v")
    }
    assert.Equal(t, int64(200), s.used.Load())
    assert.Greater(t, s.capacity.Load(), int64(initialSlots))

    for i := 0; i < 200; i++ {
        got := segGet(t, s, fmt.Sprintf("k%03d", i))
        require.NotNil(t, got, "k%03d", i)
    }

    for i := 0; i < 100; i++ {
        segRemove(t, s, fmt.Sprintf("k%03d", i))
    }
    assert.Equal(t, int64(100), s.used.Load())

    // Tombstones are reused by later installs.
    for i := 0; i < 100; i++ {
        segPut(t, s, fmt.Sprintf("n%03d", i), "v")
    }
    for i := 100; i < 200; i++ {
        require.NotNil(t, segGet(t, s, fmt.Sprintf("k%03d", i)))
    }
}

func TestSegmentPinBlocksEviction(t *testing.T) {
    s := newTestSegment(nil)
    segPut(t, s, "pinned", "v")
    segPut(t, s, "plain", "v")

    // Pin one entry through the metadata-only path.
    kb := []byte("pinned")
    _, err := s.remap("pinned", kb, hashKey(kb), func(_ string, cur *ValueHolder[string]) (*ValueHolder[string], error) {
        return cur, nil
    }, remapOpts[string, string]{pinOnInstall: true})
    require.NoError(t, err)

    var evicted []string
    for s.evictOne(func(k string, _ *ValueHolder[string]) { evicted = append(evicted, k) }) {
    }
    assert.Equal(t, []string{"plain"}, evicted)
    require.NotNil(t, segGet(t, s, "pinned"))
}

func TestSegmentVetoPolicyMarksAndSkips(t *testing.T) {
    vetoed := map[string]bool{"precious": true}
    s := newTestSegment(func(k string, _ string) bool { return vetoed[k] })

    segPut(t, s, "precious", "v")
    segPut(t, s, "plain", "v")

    var evictedKeys []string
    for s.evictOne(func(k string, _ *ValueHolder[string]) { evictedKeys = append(evictedKeys, k) }) {
    }
    assert.Equal(t, []string{"plain"}, evictedKeys)

    // The refused entry is marked and stays; explicit removal still works.
    require.NotNil(t, segGet(t, s, "precious"))
    assert.Positive(t, s.vetoedOccupied.Load())
    segRemove(t, s, "precious")
    assert.Nil(t, segGet(t, s, "precious"))
    assert.Zero(t, s.vetoedOccupied.Load())
}

func TestSegmentEvictionDetachesVictim(t *testing.T) {
    s := newTestSegment(nil)
    segPut(t, s, "k", "value-bytes")

    var victim *ValueHolder[string]
    ok := s.evictOne(func(_ string, h *ValueHolder[string]) { victim = h })
    require.True(t, ok)
    require.NotNil(t, victim)
    assert.True(t, victim.Detached())
    assert.Equal(t, []byte("value-bytes"), victim.BinaryValue())
}

func TestSegmentMarkVetoed(t *testing.T) {
    s := newTestSegment(nil)
    for i := 0; i < 10; i++ {
        segPut(t, s, fmt.Sprintf("k%d", i), "v")
    }

    flipped, stopped := s.markVetoed()
    assert.Equal(t, 10, flipped)
    assert.False(t, stopped)

    // Second walk finds the first bit already set and stops immediately.
    flipped, stopped = s.markVetoed()
    assert.Zero(t, flipped)
    assert.True(t, stopped)
}

func TestSegmentClear(t *testing.T) {
    ar := arena.New(1<<20, 4096)
    s := newSegment[string, string](ar, StringCodec{}, nil)

    kb := func(k string) []byte { return []byte(k) }
    for i := 0; i < 10; i++ {
        k := fmt.Sprintf("k%d", i)
        _, err := s.remap(k, kb(k), hashKey(kb(k)), func(string, *ValueHolder[string]) (*ValueHolder[string], error) {
            return &ValueHolder[string]{expirationTime: NoExpire, value: "v"}, nil
        }, remapOpts[string, string]{})
        require.NoError(t, err)
    }
    require.Positive(t, ar.OccupiedBytes())

    s.clear()
    assert.Zero(t, s.used.Load())
    assert.Zero(t, s.dataOccupied.Load())
    assert.Zero(t, ar.OccupiedBytes())
}

func TestSegmentOversizePropagatesUntouched(t *testing.T) {
    ar := arena.New(256, 128) // tiny budget
    s := newSegment[string, string](ar, StringCodec{}, nil)

    kb := []byte("k")
    _, err := s.remap("k", kb, hashKey(kb), func(string, *ValueHolder[string]) (*ValueHolder[string], error) {
        return &ValueHolder[string]{expirationTime: NoExpire, value: "v"}, nil
    }, remapOpts[string, string]{})
    require.NoError(t, err)
    h := segGet(t, s, "k")
    require.NotNil(t, h)

    // A replacement that cannot allocate leaves the resident mapping as is.
    _, err = s.remap("k", kb, hashKey(kb), func(string, *ValueHolder[string]) (*ValueHolder[string], error) {
        return &ValueHolder[string]{expirationTime: NoExpire, value: "much-too-big-for-the-budget-much-too-big-for-the-budget-much-too-big-for-the-budget-much-too-big-for-the-budget-much-too-big-for-the-budget-much-too-big-for-the-budget-much-too-big-for-the-budget-much-too-big"}, nil
    }, remapOpts[string, string]{})
    require.ErrorIs(t, err, arena.ErrOversizeMapping)

    got := segGet(t, s, "k")
    require.NotNil(t, got)
    assert.Equal(t, "v", got.Value())
}
