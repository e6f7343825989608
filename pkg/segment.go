package store

// segment.go contains one segment of the off-heap backing map: an
// open-addressed hash table (linear probing, tombstones) whose entries live
// in slab blocks.  Each segment owns a single exclusive lock; point lookups
// also take it, which is what makes the remap contract atomic — a reader
// can never observe a half-installed mapping.
//
// The remap closure is the only way in or out of a slot.  It runs once,
// under the lock, sees the current holder (or nil) and answers with the next
// holder (or nil).  Everything the facade does — expiry detection, access
// touch, conditional logic, event recording — happens inside that closure;
// the segment only provides the mechanics: probing, allocation, install,
// tombstoning, flag bits and counters.
//
// Slot flags:
//   • pinned – the upper tier holds a faulted reference; the entry must not
//     be evicted until flushed or invalidated.
//   • vetoed – the eviction policy refused the entry; victim scans skip it,
//     explicit removal still works.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"sync"
	"sync/atomic"

	"github.com/skbansal/ehcache3/internal/arena"
)

const (
    flagPinned uint32 = 1 << iota
    flagVetoed
)

type slotState uint8

const (
    slotEmpty slotState = iota
    slotPresent
    slotRemoved
)

const initialSlots = 64 // per segment, power of two

type slot[K comparable, V any] struct {
    state  slotState
    flags  uint32
    hash   uint64
    key    K
    holder *ValueHolder[V]
}

// remapFunc observes the current holder and produces the next one.  nil out
// means removal (or keep-absent).  Returning the current pointer unchanged
// means "metadata only": the segment writes the header back without
// reallocating.
type remapFunc[K comparable, V any] func(key K, current *ValueHolder[V]) (*ValueHolder[V], error)

type remapOpts[K comparable, V any] struct {
    requirePresent bool
    requirePinned  bool
    pinOnInstall   bool
    // unpinIf, when non-nil and the slot survives the remap, clears the pin
    // bit if the predicate holds for the resident holder.
    unpinIf func(*ValueHolder[V]) bool
    // onApplied runs under the segment lock with the final resident holder
    // (nil after a removal).  Faulting paths use it to take detached copies
    // while the block is still guaranteed alive.
    onApplied func(resident *ValueHolder[V])
}

type segment[K comparable, V any] struct {
    mu    sync.Mutex
    table []slot[K, V]
    mask  uint64
    idCtr int64
    hand  int // victim-scan position, advances clock-wise across the table

    ar       *arena.Arena
    valCodec Codec[V]
    // veto is the panic-safe eviction veto installed by the store; nil
    // means nothing is ever vetoed.
    veto func(K, V) bool

    used     atomic.Int64
    removed  atomic.Int64
    reprobe  atomic.Int64
    capacity atomic.Int64

    dataOccupied   atomic.Int64 // exact encoded entry bytes (headers included)
    dataSize       atomic.Int64 // key+value payload bytes
    vetoedOccupied atomic.Int64
    vetoedData     atomic.Int64
}

func newSegment[K comparable, V any](ar *arena.Arena, valCodec Codec[V], veto func(K, V) bool) *segment[K, V] {
    s := &segment[K, V]{
        table:    make([]slot[K, V], initialSlots),
        mask:     initialSlots - 1,
        ar:       ar,
        valCodec: valCodec,
        veto:     veto,
    }
    s.capacity.Store(initialSlots)
    return s
}

/* -------------------------------------------------------------------------
   Probing
   ------------------------------------------------------------------------- */

// find locates the slot for (hash, key).  Returns the present slot index or
// -1, plus the best insertion index (first tombstone on the probe path, else
// the terminating empty slot).
func (s *segment[K, V]) find(hash uint64, key K) (present int, insert int) {
    idx := int(hash & s.mask)
    insert = -1
    probes := int64(0)
    for {
        sl := &s.table[idx]
        switch sl.state {
        case slotEmpty:
            if insert < 0 {
                insert = idx
            }
            s.bumpReprobe(probes)
            return -1, insert
        case slotRemoved:
            if insert < 0 {
                insert = idx
            }
        case slotPresent:
            if sl.hash == hash && sl.key == key {
                s.bumpReprobe(probes)
                return idx, idx
            }
        }
        probes++
        idx = int((uint64(idx) + 1) & s.mask)
    }
}

func (s *segment[K, V]) bumpReprobe(probes int64) {
    if probes > s.reprobe.Load() {
        s.reprobe.Store(probes)
    }
}

/* -------------------------------------------------------------------------
   Remap core
   ------------------------------------------------------------------------- */

// remap is the single mutation path.  It acquires the lock, runs fn at most
// once against the current holder, and applies the result.  An allocation
// failure propagates as arena.ErrOversizeMapping with the slot untouched;
// the segmented map's oversize protocol owns the retry.
func (s *segment[K, V]) remap(key K, keyBytes []byte, hash uint64, fn remapFunc[K, V], opts remapOpts[K, V]) (*ValueHolder[V], error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    present, insert := s.find(hash, key)

    var current *ValueHolder[V]
    var sl *slot[K, V]
    if present >= 0 {
        sl = &s.table[present]
        current = sl.holder
    }

    if opts.requirePresent && current == nil {
        return nil, nil
    }
    if opts.requirePinned && (sl == nil || sl.flags&flagPinned == 0) {
        return nil, nil
    }

    next, err := fn(key, current)
    if err != nil {
        return nil, err
    }

    applied := func(resident *ValueHolder[V]) {
        if opts.onApplied != nil {
            opts.onApplied(resident)
        }
    }

    switch {
    case next == nil && current == nil:
        applied(nil)
        return nil, nil

    case next == nil:
        s.removeAt(present)
        applied(nil)
        return nil, nil

    case next == current:
        // Metadata-only mutation: persist the header, adjust pin state.
        current.WriteBack()
        if opts.pinOnInstall {
            sl.flags |= flagPinned
        }
        if opts.unpinIf != nil && opts.unpinIf(current) {
            sl.flags &^= flagPinned
        }
        applied(current)
        return current, nil

    default:
        installed, err := s.install(key, keyBytes, hash, present, insert, next, opts.pinOnInstall)
        if err != nil {
            return nil, err
        }
        applied(installed)
        return installed, nil
    }
}

// install encodes next, allocates its block and swaps it into the slot.  The
// previous block (if any) is freed only after the allocation succeeded, so
// an oversize failure leaves the mapping exactly as it was.
func (s *segment[K, V]) install(key K, keyBytes []byte, hash uint64, present, insert int, next *ValueHolder[V], pin bool) (*ValueHolder[V], error) {
    // Transfer installs (restore, upper-tier handoff) arrive with their
    // binary form intact; everything else is encoded here.
    valBytes := next.binary
    if !next.detached || valBytes == nil {
        var err error
        valBytes, err = s.valCodec.Encode(next.value)
        if err != nil {
            return nil, newStoreAccessError("encode value", err)
        }
    }

    size := entrySize(len(keyBytes), len(valBytes))
    ref, err := s.ar.Allocate(size)
    if err != nil {
        return nil, err
    }

    if next.id == 0 {
        s.idCtr++
        next.id = s.idCtr
    } else if next.id > s.idCtr {
        // Transfer install (restore, upper-tier handoff): keep the foreign
        // id but never let the counter fall behind it.
        s.idCtr = next.id
    }

    block := s.ar.Bytes(ref)
    encodeBlock(block, next, keyBytes, valBytes)
    _, valRegion := blockRegions(block)

    next.ref = ref
    next.ar = s.ar
    next.binary = valRegion
    next.detached = false

    if present >= 0 {
        old := &s.table[present]
        s.accountRemove(old)
        s.ar.Free(old.holder.ref)
        old.holder = next
        old.flags = 0
    } else {
        sl := &s.table[insert]
        if sl.state == slotRemoved {
            s.removed.Add(-1)
        }
        sl.state = slotPresent
        sl.hash = hash
        sl.key = key
        sl.holder = next
        sl.flags = 0
        s.used.Add(1)
        present = insert
    }
    if pin {
        s.table[present].flags |= flagPinned
    }

    s.dataOccupied.Add(int64(size))
    s.dataSize.Add(int64(len(keyBytes) + len(valBytes)))

    s.maybeGrow()
    return next, nil
}

// accountRemove backs a slot's bytes out of the counters before the slot is
// reused or tombstoned.
func (s *segment[K, V]) accountRemove(sl *slot[K, V]) {
    // Exact data bytes come from the block header, not the rounded ref.
    block := s.ar.Bytes(sl.holder.ref)
    kb, vb := blockRegions(block)
    entry := int64(entrySize(len(kb), len(vb)))
    payload := int64(len(kb) + len(vb))
    s.dataOccupied.Add(-entry)
    s.dataSize.Add(-payload)
    if sl.flags&flagVetoed != 0 {
        s.vetoedOccupied.Add(-sl.holder.ref.Size())
        s.vetoedData.Add(-entry)
    }
}

// removeAt frees the block and tombstones the slot.
func (s *segment[K, V]) removeAt(idx int) {
    sl := &s.table[idx]
    s.accountRemove(sl)
    s.ar.Free(sl.holder.ref)
    var zeroK K
    sl.state = slotRemoved
    sl.flags = 0
    sl.hash = 0
    sl.key = zeroK
    sl.holder = nil
    s.used.Add(-1)
    s.removed.Add(1)
}

// maybeGrow rehashes when live plus tombstoned slots pass 3/4 of capacity.
// Tombstone-heavy tables rehash in place at the same size.
func (s *segment[K, V]) maybeGrow() {
    capNow := int64(len(s.table))
    if (s.used.Load()+s.removed.Load())*4 < capNow*3 {
        return
    }
    newCap := capNow
    if s.used.Load()*2 >= capNow {
        newCap = capNow * 2
    }
    old := s.table
    s.table = make([]slot[K, V], newCap)
    s.mask = uint64(newCap - 1)
    s.removed.Store(0)
    s.reprobe.Store(0)
    s.capacity.Store(newCap)
    s.hand = 0
    for i := range old {
        if old[i].state != slotPresent {
            continue
        }
        idx := int(old[i].hash & s.mask)
        probes := int64(0)
        for s.table[idx].state == slotPresent {
            idx = int((uint64(idx) + 1) & s.mask)
            probes++
        }
        s.table[idx] = old[i]
        s.bumpReprobe(probes)
    }
}

/* -------------------------------------------------------------------------
   Eviction support
   ------------------------------------------------------------------------- */

// evictOne scans from the hand for an unpinned, unvetoed victim, consults
// the veto policy, removes the victim and reports it.  Entries the policy
// refuses are flagged vetoed and skipped for good.  The callback runs after
// the lock is dropped.
func (s *segment[K, V]) evictOne(onEvict func(K, *ValueHolder[V])) bool {
    s.mu.Lock()
    n := len(s.table)
    var victimKey K
    var victim *ValueHolder[V]
    for scanned := 0; scanned < n; scanned++ {
        idx := (s.hand + scanned) % n
        sl := &s.table[idx]
        if sl.state != slotPresent || sl.flags&(flagPinned|flagVetoed) != 0 {
            continue
        }
        if s.veto != nil && s.veto(sl.key, sl.holder.value) {
            sl.flags |= flagVetoed
            s.vetoedOccupied.Add(sl.holder.ref.Size())
            block := s.ar.Bytes(sl.holder.ref)
            kb, vb := blockRegions(block)
            s.vetoedData.Add(int64(entrySize(len(kb), len(vb))))
            continue
        }
        victimKey = sl.key
        victim = sl.holder
        // Copy the binary out before the block goes back to the free list;
        // another segment could recycle it the moment the lock drops.
        ref := victim.ref
        s.accountRemove(sl)
        victim.Detach()
        s.ar.Free(ref)
        var zeroK K
        sl.state = slotRemoved
        sl.flags = 0
        sl.hash = 0
        sl.key = zeroK
        sl.holder = nil
        s.used.Add(-1)
        s.removed.Add(1)
        s.hand = (idx + 1) % n
        break
    }
    s.mu.Unlock()

    if victim == nil {
        return false
    }
    if onEvict != nil {
        onEvict(victimKey, victim)
    }
    return true
}

// markVetoed read-and-sets the vetoed bit on every present slot.  It stops
// at the first slot whose bit was already set — the oversize walk has come
// full circle.  Returns how many bits were flipped and whether the walk was
// stopped.
func (s *segment[K, V]) markVetoed() (flipped int, stopped bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.table {
        sl := &s.table[i]
        if sl.state != slotPresent {
            continue
        }
        if sl.flags&flagVetoed != 0 {
            return flipped, true
        }
        sl.flags |= flagVetoed
        s.vetoedOccupied.Add(sl.holder.ref.Size())
        block := s.ar.Bytes(sl.holder.ref)
        kb, vb := blockRegions(block)
        s.vetoedData.Add(int64(entrySize(len(kb), len(vb))))
        flipped++
    }
    return flipped, false
}

/* -------------------------------------------------------------------------
   Bulk access
   ------------------------------------------------------------------------- */

type iterEntry[K comparable, V any] struct {
    key    K
    holder *ValueHolder[V]
}

// snapshotEntries copies the live entries under the lock.  Holders are
// detached copies, so the caller may use them without any lock.
func (s *segment[K, V]) snapshotEntries() []iterEntry[K, V] {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]iterEntry[K, V], 0, s.used.Load())
    for i := range s.table {
        if s.table[i].state != slotPresent {
            continue
        }
        out = append(out, iterEntry[K, V]{
            key:    s.table[i].key,
            holder: s.table[i].holder.detachedCopy(),
        })
    }
    return out
}

// clear frees every block and resets the table to its initial shape.
func (s *segment[K, V]) clear() {
    s.mu.Lock()
    defer s.mu.Unlock()
    for i := range s.table {
        if s.table[i].state == slotPresent {
            s.ar.Free(s.table[i].holder.ref)
        }
    }
    s.table = make([]slot[K, V], initialSlots)
    s.mask = initialSlots - 1
    s.hand = 0
    s.used.Store(0)
    s.removed.Store(0)
    s.reprobe.Store(0)
    s.capacity.Store(initialSlots)
    s.dataOccupied.Store(0)
    s.dataSize.Store(0)
    s.vetoedOccupied.Store(0)
    s.vetoedData.Store(0)
}
