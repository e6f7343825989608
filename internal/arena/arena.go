// Package arena implements the slab allocator backing the off‑heap store.
// Variable‑size blocks are carved out of large byte slabs that are allocated
// once and never scanned structurally by the collector; freed blocks are
// recycled through per‑size‑class free lists.
//
// The allocator is deliberately simple:
//   • `Allocate(n)` – hand out a block of at least n bytes, rounded up to a
//     power‑of‑two size class.
//   • `Free(ref)` – return the block to its class free list.
//   • `Bytes(ref)` – view the block as a []byte (valid until Free).
//   • `ShrinkOthers(hash)` – delegate space reclamation to the bound
//     Shrinker (the segmented map owns the index and picks victims).
//
// There is **no synchronous defragmentation**: when the byte budget is
// exhausted and no free block of the right class exists, Allocate returns
// ErrOversizeMapping and the caller runs its oversize protocol (shrink,
// valve, veto walk).
//
// Concurrency
// -----------
// The arena is shared by all segments and therefore guards its slab table
// and free lists with a single mutex.  Byte counters are atomics so that
// statistics can be scraped without taking the lock.
//
// © 2025 ehcache3 authors. MIT License.

package arena

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/skbansal/ehcache3/internal/unsafehelpers"
)

// ErrOversizeMapping is returned by Allocate when the request cannot be
// satisfied within the configured byte budget.  It is an internal signal:
// callers either reclaim space and retry or surface a store-access failure.
var ErrOversizeMapping = errors.New("arena: oversize mapping")

// Shrinker reclaims space on behalf of the arena by evicting entries that do
// not map to the given hash.  It reports whether any block was freed.
type Shrinker interface {
    ShrinkOthers(hash uint64) bool
}

// Ref identifies an allocated block.  The zero Ref is invalid (size 0).
type Ref struct {
    slab int32
    off  int32
    size int32 // rounded class size
}

// Valid reports whether r refers to a live allocation shape.  It does not
// detect use-after-free.
func (r Ref) Valid() bool { return r.size > 0 }

// Size returns the rounded block size in bytes.
func (r Ref) Size() int64 { return int64(r.size) }

const (
    minBlock        = 64      // smallest size class
    defaultSlabSize = 1 << 20 // 1 MiB slabs
)

// Arena is the allocator instance.  One arena serves every segment of a
// store; its byte budget is the store's off-heap capacity.
type Arena struct {
    mu sync.Mutex

    slabSize int32
    capacity int64

    slabs   [][]byte
    bump    int32     // bump offset inside the active (last) slab
    free    [][]Ref   // free lists indexed by log2(class) - log2(minBlock)
    oversUd []bool    // slabs dedicated to a single oversized block

    allocated atomic.Int64 // bytes reserved from the budget (slab bytes)
    occupied  atomic.Int64 // bytes handed out and not yet freed

    shrinker Shrinker
}

// New constructs an arena with the given byte budget.  slabSize <= 0 selects
// the default.  The budget must accommodate at least one slab.
func New(capacity int64, slabSize int) *Arena {
    if slabSize <= 0 {
        slabSize = defaultSlabSize
    }
    slabSize = int(unsafehelpers.NextPowerOfTwo(uintptr(slabSize)))
    if int64(slabSize) > capacity {
        slabSize = int(unsafehelpers.NextPowerOfTwo(uintptr(capacity)) / 2)
        if slabSize < minBlock {
            slabSize = minBlock
        }
    }
    nClasses := 1
    for c := minBlock; c < slabSize; c <<= 1 {
        nClasses++
    }
    return &Arena{
        slabSize: int32(slabSize),
        capacity: capacity,
        free:     make([][]Ref, nClasses),
    }
}

// Bind attaches the shrinker consulted by ShrinkOthers.  Must be called once
// before the arena is shared; the segmented map binds itself at construction.
func (a *Arena) Bind(s Shrinker) { a.shrinker = s }

// AllocatedBytes returns bytes reserved from the budget (whole slabs).
func (a *Arena) AllocatedBytes() int64 { return a.allocated.Load() }

// OccupiedBytes returns bytes of live blocks (rounded class sizes).
func (a *Arena) OccupiedBytes() int64 { return a.occupied.Load() }

// classIndex maps a rounded block size to its free-list index, or -1 for
// oversized blocks that get a dedicated slab.
func (a *Arena) classIndex(size int32) int {
    if size > a.slabSize {
        return -1
    }
    idx := 0
    for c := int32(minBlock); c < size; c <<= 1 {
        idx++
    }
    return idx
}

// roundUp returns the size class for a request of n bytes.
func roundUp(n int) int32 {
    if n < minBlock {
        return minBlock
    }
    return int32(unsafehelpers.NextPowerOfTwo(uintptr(n)))
}

// Allocate hands out a block of at least n bytes.  On budget exhaustion it
// returns ErrOversizeMapping without side effects.
func (a *Arena) Allocate(n int) (Ref, error) {
    if n <= 0 {
        return Ref{}, errors.New("arena: allocation size must be positive")
    }
    size := roundUp(n)

    a.mu.Lock()
    defer a.mu.Unlock()

    // Oversized request: dedicated slab sized to the block.
    if size > a.slabSize {
        if a.allocated.Load()+int64(size) > a.capacity {
            return Ref{}, ErrOversizeMapping
        }
        slab := make([]byte, size)
        a.slabs = append(a.slabs, slab)
        a.oversUd = append(a.oversUd, true)
        a.allocated.Add(int64(size))
        a.occupied.Add(int64(size))
        return Ref{slab: int32(len(a.slabs) - 1), off: 0, size: size}, nil
    }

    // Recycle from the class free list first.
    idx := a.classIndex(size)
    if fl := a.free[idx]; len(fl) > 0 {
        ref := fl[len(fl)-1]
        a.free[idx] = fl[:len(fl)-1]
        a.occupied.Add(int64(size))
        return ref, nil
    }

    // Bump-allocate inside the active slab.
    if len(a.slabs) > 0 && !a.oversUd[len(a.slabs)-1] && a.bump+size <= a.slabSize {
        ref := Ref{slab: int32(len(a.slabs) - 1), off: a.bump, size: size}
        a.bump += size
        a.occupied.Add(int64(size))
        return ref, nil
    }

    // Need a fresh slab.
    if a.allocated.Load()+int64(a.slabSize) > a.capacity {
        return Ref{}, ErrOversizeMapping
    }
    slab := make([]byte, a.slabSize)
    a.slabs = append(a.slabs, slab)
    a.oversUd = append(a.oversUd, false)
    a.allocated.Add(int64(a.slabSize))
    a.bump = size
    a.occupied.Add(int64(size))
    return Ref{slab: int32(len(a.slabs) - 1), off: 0, size: size}, nil
}

// Free returns a block to its free list.  Freeing the zero Ref is a no-op so
// callers may free unconditionally on removal paths.
func (a *Arena) Free(ref Ref) {
    if !ref.Valid() {
        return
    }
    a.mu.Lock()
    defer a.mu.Unlock()

    a.occupied.Add(-int64(ref.size))
    if idx := a.classIndex(ref.size); idx >= 0 {
        a.free[idx] = append(a.free[idx], ref)
        return
    }
    // Dedicated slab: drop the backing array and release its budget share.
    a.slabs[ref.slab] = nil
    a.allocated.Add(-int64(ref.size))
}

// Bytes exposes the block as a byte slice of the *rounded* class size.  The
// slice aliases slab memory and is valid only until Free(ref); callers must
// hold the owning segment lock while touching it.
func (a *Arena) Bytes(ref Ref) []byte {
    a.mu.Lock()
    slab := a.slabs[ref.slab]
    a.mu.Unlock()
    return slab[ref.off : ref.off+ref.size]
}

// ShrinkOthers asks the bound shrinker to evict entries not mapped to the
// given hash.  Returns false when no shrinker is bound or nothing was freed.
func (a *Arena) ShrinkOthers(hash uint64) bool {
    if a.shrinker == nil {
        return false
    }
    return a.shrinker.ShrinkOthers(hash)
}

// Reset drops every slab and free list.  Used by Close; the caller
// must guarantee no live Refs remain.
func (a *Arena) Reset() {
    a.mu.Lock()
    defer a.mu.Unlock()
    a.slabs = nil
    a.oversUd = nil
    a.bump = 0
    for i := range a.free {
        a.free[i] = nil
    }
    a.allocated.Store(0)
    a.occupied.Store(0)
}
