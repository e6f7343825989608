package arena

// © 2025 ehcache3 authors. MIT License.

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFreeCounters(t *testing.T) {
    a := New(1<<20, 4096)

    ref, err := a.Allocate(100)
    require.NoError(t, err)
    assert.True(t, ref.Valid())
    assert.Equal(t, int64(128), ref.Size()) // rounded to the class
    assert.Equal(t, int64(4096), a.AllocatedBytes())
    assert.Equal(t, int64(128), a.OccupiedBytes())

    a.Free(ref)
    assert.Equal(t, int64(0), a.OccupiedBytes())
    assert.Equal(t, int64(4096), a.AllocatedBytes()) // slab stays reserved
}

func TestFreeListReuse(t *testing.T) {
    a := New(1<<20, 4096)

    ref1, err := a.Allocate(100)
    require.NoError(t, err)
    a.Free(ref1)

    ref2, err := a.Allocate(90) // same class
    require.NoError(t, err)
    assert.Equal(t, ref1, ref2)
}

func TestMinimumBlock(t *testing.T) {
    a := New(1<<20, 4096)
    ref, err := a.Allocate(1)
    require.NoError(t, err)
    assert.Equal(t, int64(minBlock), ref.Size())
}

func TestBlockBytesRoundTrip(t *testing.T) {
    a := New(1<<20, 4096)
    ref, err := a.Allocate(64)
    require.NoError(t, err)

    b := a.Bytes(ref)
    require.Len(t, b, 64)
    for i := range b {
        b[i] = byte(i)
    }
    again := a.Bytes(ref)
    assert.Equal(t, b, again)
}

func TestOversizeMapping(t *testing.T) {
    a := New(1024, 512)

    // Two slabs exhaust the budget.
    _, err := a.Allocate(512)
    require.NoError(t, err)
    _, err = a.Allocate(512)
    require.NoError(t, err)

    _, err = a.Allocate(64)
    require.ErrorIs(t, err, ErrOversizeMapping)
}

func TestDedicatedSlabForOversizedBlocks(t *testing.T) {
    a := New(1<<20, 4096)

    ref, err := a.Allocate(10_000) // larger than the slab
    require.NoError(t, err)
    assert.Equal(t, int64(16384), ref.Size())
    assert.Equal(t, int64(16384), a.AllocatedBytes())

    // Freeing a dedicated slab releases its budget share entirely.
    a.Free(ref)
    assert.Equal(t, int64(0), a.AllocatedBytes())
    assert.Equal(t, int64(0), a.OccupiedBytes())
}

func TestOversizedBeyondBudget(t *testing.T) {
    a := New(8192, 4096)
    _, err := a.Allocate(10_000)
    require.ErrorIs(t, err, ErrOversizeMapping)
}

type fakeShrinker struct {
    calls  int
    result bool
}

func (f *fakeShrinker) ShrinkOthers(hash uint64) bool {
    f.calls++
    return f.result
}

func TestShrinkOthersDelegation(t *testing.T) {
    a := New(1<<20, 4096)

    assert.False(t, a.ShrinkOthers(42)) // nothing bound

    sh := &fakeShrinker{result: true}
    a.Bind(sh)
    assert.True(t, a.ShrinkOthers(42))
    assert.Equal(t, 1, sh.calls)
}

func TestReset(t *testing.T) {
    a := New(1<<20, 4096)
    _, err := a.Allocate(100)
    require.NoError(t, err)

    a.Reset()
    assert.Equal(t, int64(0), a.AllocatedBytes())
    assert.Equal(t, int64(0), a.OccupiedBytes())

    _, err = a.Allocate(100)
    require.NoError(t, err)
}
