package store

// caching_tier.go implements the store's second role: the lower caching
// tier beneath a faster tier.  The protocol between the two is fault and
// flush:
//
//   fault  – the upper tier pulls an entry up.  The resident mapping is
//            pinned (eviction must not yank memory the upper tier points
//            at) and a detached copy is handed over.
//   flush  – the upper tier pushes accumulated metadata (access time, hit
//            count, expiration) back down.  Accepted only while the slot is
//            still pinned and the identifiers agree; success unpins.
//
// Invalidation-flavoured removals (Invalidate, GetAndRemove and the expired
// arm of InstallMapping) are tier-internal: they notify the invalidation
// listener instead of emitting removed events.
//
// © 2025 ehcache3 authors. MIT License.

// SetInvalidationListener registers the upper tier's invalidation callback.
// A nil listener resets to the no-op default.
func (s *Store[K, V]) SetInvalidationListener(l InvalidationListener[K, V]) {
    s.invMu.Lock()
    s.invalidation = l
    s.invMu.Unlock()
}

// notifyInvalidation calls the listener outside any segment lock.  holder
// is always a detached copy.
func (s *Store[K, V]) notifyInvalidation(key K, holder *ValueHolder[V]) {
    s.invMu.RLock()
    l := s.invalidation
    s.invMu.RUnlock()
    if l != nil {
        l(key, holder)
    }
}

/* -------------------------------------------------------------------------
   Faulting protocol (authoritative side)
   ------------------------------------------------------------------------- */

// GetAndFault pins the mapping for key and returns a detached copy for the
// upper tier.  The resident mapping stays authoritative; expired mappings
// are removed and reported as absent.  No access touch is applied — the
// metadata comes back on Flush.
func (s *Store[K, V]) GetAndFault(key K) (*ValueHolder[V], error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return nil, err
    }

    sink := s.dispatcher.EventSink()
    var faulted *ValueHolder[V]
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        return cur, nil
    }
    opts := remapOpts[K, V]{
        pinOnInstall: true,
        onApplied: func(res *ValueHolder[V]) {
            if res != nil {
                faulted = res.detachedCopy()
            }
        },
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, opts)

    outcome := outcomeMiss
    if faulted != nil {
        outcome = outcomeHit
    }
    if err = s.finish(opGetAndFault, sink, outcome, err); err != nil {
        return nil, err
    }
    return faulted, nil
}

// ComputeIfAbsentAndFault behaves like ComputeIfAbsent but pins the mapping
// on install and returns a detached copy carrying the binary form, so the
// upper tier can defer deserialization to first use.
func (s *Store[K, V]) ComputeIfAbsentAndFault(key K, fn func(key K) (V, error)) (*ValueHolder[V], error) {
    var faulted *ValueHolder[V]
    if _, _, err := s.computeIfAbsent(key, fn, true, &faulted); err != nil {
        return nil, err
    }
    return faulted, nil
}

// Flush pushes upstairs metadata back onto the resident mapping.  It
// succeeds only while the slot is pinned and the resident identifier equals
// the upstairs one; success copies the metadata, writes it back and unpins.
// An upstairs holder observed expired expires the resident mapping instead.
func (s *Store[K, V]) Flush(key K, upstairs *ValueHolder[V]) (bool, error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return false, err
    }
    if upstairs == nil {
        return false, ErrNilValue
    }

    sink := s.dispatcher.EventSink()
    hit := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur.id != upstairs.id {
            return cur, nil
        }
        if upstairs.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            hit = true
            return nil, nil
        }
        cur.UpdateMetadata(upstairs)
        hit = true
        return cur, nil
    }
    opts := remapOpts[K, V]{
        requirePresent: true,
        requirePinned:  true,
        unpinIf:        func(*ValueHolder[V]) bool { return hit },
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, opts)

    outcome := outcomeMiss
    if hit {
        outcome = outcomeHit
    }
    if err = s.finish(opFlush, sink, outcome, err); err != nil {
        return false, err
    }
    return hit, nil
}

/* -------------------------------------------------------------------------
   Lower caching tier operations
   ------------------------------------------------------------------------- */

// Invalidate removes the mapping for key, if any, and notifies the
// invalidation listener with the prior holder.  No removed event is emitted;
// this is a tier-internal operation.
func (s *Store[K, V]) Invalidate(key K) error {
    return s.invalidate(key, nil)
}

// InvalidateWith additionally runs then atomically inside the same
// segment-locked remap.
func (s *Store[K, V]) InvalidateWith(key K, then func()) error {
    return s.invalidate(key, then)
}

func (s *Store[K, V]) invalidate(key K, then func()) error {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return err
    }

    sink := s.dispatcher.EventSink()
    var prior *ValueHolder[V]
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur != nil {
            prior = cur.detachedCopy()
        }
        if then != nil {
            then()
        }
        return nil, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})

    outcome := outcomeMiss
    if prior != nil {
        outcome = outcomeRemoved
    }
    if err = s.finish(opInvalidate, sink, outcome, err); err != nil {
        return err
    }
    if prior != nil {
        s.notifyInvalidation(key, prior)
    }
    return nil
}

// GetAndRemove removes the mapping and returns the prior holder, notifying
// the invalidation listener.  Expired mappings are expired, not returned.
func (s *Store[K, V]) GetAndRemove(key K) (*ValueHolder[V], error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return nil, err
    }

    sink := s.dispatcher.EventSink()
    var prior *ValueHolder[V]
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        prior = cur.detachedCopy()
        return nil, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})

    outcome := outcomeMiss
    if prior != nil {
        outcome = outcomeHit
    }
    if err = s.finish(opGetAndRemove, sink, outcome, err); err != nil {
        return nil, err
    }
    if prior != nil {
        s.notifyInvalidation(key, prior)
    }
    return prior, nil
}

// InstallMapping places a holder produced by source into an empty slot,
// preserving its identifier, timestamps, hit count and binary form.  A
// resident mapping is a protocol violation and panics with
// PreconditionError.  A source holder observed expired is not installed;
// the invalidation listener is notified instead.
func (s *Store[K, V]) InstallMapping(key K, source func(key K) (*ValueHolder[V], error)) (*ValueHolder[V], error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return nil, err
    }
    if source == nil {
        return nil, newStoreAccessError(opInstallMapping, errNilFunction)
    }

    sink := s.dispatcher.EventSink()
    var expiredUpstream *ValueHolder[V]
    var installed *ValueHolder[V]
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur != nil {
            panic(PreconditionError("install mapping on a resident slot"))
        }
        h, err := source(k)
        if err != nil {
            return nil, err
        }
        if h == nil {
            return nil, nil
        }
        if h.IsExpired(s.time.NowMillis()) {
            expiredUpstream = h.detachedCopy()
            return nil, nil
        }
        transfer := &ValueHolder[V]{
            id:             h.id,
            creationTime:   h.creationTime,
            lastAccessTime: h.lastAccessTime,
            expirationTime: h.expirationTime,
            hits:           h.hits,
            value:          h.value,
            binary:         h.binary,
            detached:       h.detached,
        }
        return transfer, nil
    }
    opts := remapOpts[K, V]{
        onApplied: func(res *ValueHolder[V]) {
            if res != nil {
                installed = res.detachedCopy()
            }
        },
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(fn), opts)

    outcome := outcomeNoop
    if installed != nil {
        outcome = outcomePut
    }
    if err = s.finish(opInstallMapping, sink, outcome, err); err != nil {
        return nil, err
    }
    if expiredUpstream != nil {
        s.notifyInvalidation(key, expiredUpstream)
    }
    return installed, nil
}
