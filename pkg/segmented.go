package store

// segmented.go fans the key space out over N segments (N a power of two)
// and owns the oversize protocol.  A key's segment is chosen by the xxhash
// of its encoded bytes; entries never migrate between segments.
//
// Oversize protocol, run around any install that the arena refuses:
//   1. ShrinkOthers(hash): evict one entry from a segment other than the
//      key's own; if anything was freed, retry the allocation.
//   2. Fire the emergency valve (once per operation) and retry.  The valve
//      is typically "drain the write-behind queue".
//   3. Walk every segment under its lock, read-and-setting the vetoed bit
//      on each entry.  Hitting a bit that was already set proves the walk
//      has come full circle with nothing to show for it: surface
//      StoreAccessError(ErrTooLarge).  A walk that flipped at least one bit
//      buys another retry.
// The loop is monotone — every iteration frees bytes or flips bits — so it
// terminates in at most entry-count plus one valve invocation.
//
// The user closure wrapped by the retry loop is memoized by the facade:
// retries re-run the *allocation*, never the closure.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"errors"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/skbansal/ehcache3/internal/arena"
)

type segmentedMap[K comparable, V any] struct {
    segs  []*segment[K, V]
    mask  uint64
    arena *arena.Arena
    log   *zap.Logger

    // valve is the caller-supplied emergency relief, invoked at most once
    // per operation when the arena cannot allocate.
    valve func()

    // onEvict posts the evicted event on the operation's sink (nil when the
    // eviction happens outside any operation), fires the upper tier's
    // invalidation callback and bumps the eviction counter.  Installed by
    // the store.
    onEvict func(sink *EventSink[K, V], key K, holder *ValueHolder[V])
}

func newSegmentedMap[K comparable, V any](ar *arena.Arena, nSegments int, valCodec Codec[V], veto func(K, V) bool, valve func(), log *zap.Logger) *segmentedMap[K, V] {
    m := &segmentedMap[K, V]{
        segs:  make([]*segment[K, V], nSegments),
        mask:  uint64(nSegments - 1),
        arena: ar,
        valve: valve,
        log:   log,
    }
    for i := range m.segs {
        m.segs[i] = newSegment(ar, valCodec, veto)
    }
    ar.Bind(m)
    return m
}

// hashKey routes on the xxhash of the encoded key.
func hashKey(keyBytes []byte) uint64 { return xxhash.Sum64(keyBytes) }

func (m *segmentedMap[K, V]) segmentFor(hash uint64) *segment[K, V] {
    return m.segs[hash&m.mask]
}

// remap routes a single-key remap through the oversize protocol.  fn must
// already be memoized by the caller if it may not run twice.
func (m *segmentedMap[K, V]) remap(sink *EventSink[K, V], key K, keyBytes []byte, fn remapFunc[K, V], opts remapOpts[K, V]) (*ValueHolder[V], error) {
    hash := hashKey(keyBytes)
    seg := m.segmentFor(hash)

    valveUsed := false
    for {
        h, err := seg.remap(key, keyBytes, hash, fn, opts)
        if err == nil || !errors.Is(err, arena.ErrOversizeMapping) {
            return h, err
        }

        if m.shrinkOthers(hash, sink) {
            continue
        }
        if m.valve != nil && !valveUsed {
            valveUsed = true
            m.valve()
            continue
        }

        flipped := 0
        stopped := false
        for _, s := range m.segs {
            f, st := s.markVetoed()
            flipped += f
            if st {
                stopped = true
                break
            }
        }
        if stopped || flipped == 0 {
            m.log.Warn("oversize mapping could not be resolved",
                zap.Int("vetoed", flipped),
                zap.Bool("valve_invoked", valveUsed))
            return nil, newStoreAccessError("install mapping", ErrTooLarge)
        }
    }
}

// shrinkOthers evicts one entry from a segment other than the one the hash
// routes to.  Reports whether any block was freed.
func (m *segmentedMap[K, V]) shrinkOthers(hash uint64, sink *EventSink[K, V]) bool {
    own := int(hash & m.mask)
    for i := 1; i <= len(m.segs); i++ {
        idx := (own + i) % len(m.segs)
        if idx == own {
            continue
        }
        evicted := m.segs[idx].evictOne(func(k K, h *ValueHolder[V]) {
            if m.onEvict != nil {
                m.onEvict(sink, k, h)
            }
        })
        if evicted {
            return true
        }
    }
    return false
}

// ShrinkOthers implements arena.Shrinker for reclamation requests that
// originate inside the arena, outside any store operation.
func (m *segmentedMap[K, V]) ShrinkOthers(hash uint64) bool {
    return m.shrinkOthers(hash, nil)
}

// clear resets every segment.
func (m *segmentedMap[K, V]) clear() {
    for _, s := range m.segs {
        s.clear()
    }
}
