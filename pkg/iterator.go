package store

// iterator.go provides weakly consistent iteration: each segment is copied
// under its lock when the iterator first reaches it, so every entry that
// was resident at that moment is yielded exactly once.  Entries inserted or
// removed mid-iteration may or may not be observed; entries found expired
// at yield time are skipped (but not removed — iteration is read-only).
//
// Holders yielded by the iterator are detached copies and stay valid after
// the iterator is exhausted.
//
// © 2025 ehcache3 authors. MIT License.

// EntryIterator walks the store segment by segment.
type EntryIterator[K comparable, V any] struct {
    store   *Store[K, V]
    segIdx  int
    entries []iterEntry[K, V]
    pos     int

    key    K
    holder *ValueHolder[V]
}

// EntryIterator returns a weakly consistent iterator over the live
// mappings.
func (s *Store[K, V]) EntryIterator() *EntryIterator[K, V] {
    return &EntryIterator[K, V]{store: s, pos: -1}
}

// Next advances to the next live entry, returning false when the store is
// exhausted (or closed).
func (it *EntryIterator[K, V]) Next() bool {
    if it.store.closed.Load() {
        return false
    }
    for {
        it.pos++
        for it.pos >= len(it.entries) {
            if it.segIdx >= len(it.store.backing.segs) {
                return false
            }
            it.entries = it.store.backing.segs[it.segIdx].snapshotEntries()
            it.segIdx++
            it.pos = 0
        }
        e := it.entries[it.pos]
        if e.holder.IsExpired(it.store.time.NowMillis()) {
            continue
        }
        it.key = e.key
        it.holder = e.holder
        return true
    }
}

// Key returns the key of the current entry.
func (it *EntryIterator[K, V]) Key() K { return it.key }

// Holder returns the detached holder of the current entry.
func (it *EntryIterator[K, V]) Holder() *ValueHolder[V] { return it.holder }
