package store

// bulk.go implements the batched remaps.  A bulk operation owns a single
// event sink: the events of every affected key are published together when
// the whole batch has been applied.  Atomicity remains per key — each key's
// remap runs under its own segment lock, and cross-key transactionality is
// explicitly out of scope.
//
// The batch function runs exactly once, outside any segment lock, against
// the values observed in the first pass.  The second pass applies its
// answer key by key with the usual create/update/remove semantics.
//
// © 2025 ehcache3 authors. MIT License.

// BulkCompute observes the current mappings for keys, hands them to fn as a
// map, and applies the returned map: keys present in the answer are
// installed or replaced, keys absent from it are removed.  The resulting
// mappings are returned.
func (s *Store[K, V]) BulkCompute(keys []K, fn func(current map[K]V) (map[K]V, error)) (map[K]V, error) {
    if s.closed.Load() {
        return nil, ErrClosed
    }
    if fn == nil {
        return nil, newStoreAccessError(opCompute, errNilFunction)
    }

    keyBytes := make(map[K][]byte, len(keys))
    order := make([]K, 0, len(keys))
    for _, k := range keys {
        if _, dup := keyBytes[k]; dup {
            continue
        }
        kb, err := s.prepareKey(k)
        if err != nil {
            return nil, err
        }
        keyBytes[k] = kb
        order = append(order, k)
    }

    sink := s.dispatcher.EventSink()

    current := make(map[K]V, len(order))
    for _, k := range order {
        if v, ok, err := s.observe(sink, k, keyBytes[k]); err != nil {
            return nil, s.finish(opCompute, sink, outcomeFailure, err)
        } else if ok {
            current[k] = v
        }
    }

    want, err := fn(current)
    if err != nil {
        return nil, s.finish(opCompute, sink, outcomeFailure, err)
    }

    result := make(map[K]V, len(want))
    for _, k := range order {
        value, keep := want[k]
        if keep {
            if err := s.applyPut(sink, k, keyBytes[k], value); err != nil {
                return nil, s.finish(opCompute, sink, outcomeFailure, err)
            }
            result[k] = value
            continue
        }
        if err := s.applyRemove(sink, k, keyBytes[k]); err != nil {
            return nil, s.finish(opCompute, sink, outcomeFailure, err)
        }
    }
    return result, s.finish(opCompute, sink, outcomeSuccess, nil)
}

// BulkComputeIfAbsent loads values for the keys that have no live mapping
// and installs them, leaving live mappings untouched beyond the access
// touch.  fn runs once with the missing keys; the returned map supplies
// their values (keys missing from it stay absent).
func (s *Store[K, V]) BulkComputeIfAbsent(keys []K, fn func(missing []K) (map[K]V, error)) (map[K]V, error) {
    if s.closed.Load() {
        return nil, ErrClosed
    }
    if fn == nil {
        return nil, newStoreAccessError(opComputeIfAbsent, errNilFunction)
    }

    keyBytes := make(map[K][]byte, len(keys))
    order := make([]K, 0, len(keys))
    for _, k := range keys {
        if _, dup := keyBytes[k]; dup {
            continue
        }
        kb, err := s.prepareKey(k)
        if err != nil {
            return nil, err
        }
        keyBytes[k] = kb
        order = append(order, k)
    }

    sink := s.dispatcher.EventSink()

    result := make(map[K]V, len(order))
    missing := make([]K, 0, len(order))
    for _, k := range order {
        if v, ok, err := s.touchObserve(sink, k, keyBytes[k]); err != nil {
            return nil, s.finish(opComputeIfAbsent, sink, outcomeFailure, err)
        } else if ok {
            result[k] = v
        } else {
            missing = append(missing, k)
        }
    }

    if len(missing) == 0 {
        return result, s.finish(opComputeIfAbsent, sink, outcomeHit, nil)
    }

    loaded, err := fn(missing)
    if err != nil {
        return nil, s.finish(opComputeIfAbsent, sink, outcomeFailure, err)
    }

    for _, k := range missing {
        value, ok := loaded[k]
        if !ok {
            continue
        }
        if v, ok, err := s.applyIfAbsent(sink, k, keyBytes[k], value); err != nil {
            return nil, s.finish(opComputeIfAbsent, sink, outcomeFailure, err)
        } else if ok {
            result[k] = v
        }
    }
    return result, s.finish(opComputeIfAbsent, sink, outcomeSuccess, nil)
}

/* -------------------------------------------------------------------------
   Per-key helpers sharing the batch sink
   ------------------------------------------------------------------------- */

// observe reads the live value without touching access metadata.
func (s *Store[K, V]) observe(sink *EventSink[K, V], key K, keyBytes []byte) (V, bool, error) {
    var value V
    found := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        value = cur.value
        found = true
        return cur, nil
    }
    _, err := s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})
    return value, found, err
}

// touchObserve reads the live value with the access-touch policy applied.
func (s *Store[K, V]) touchObserve(sink *EventSink[K, V], key K, keyBytes []byte) (V, bool, error) {
    var value V
    found := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        now := s.time.NowMillis()
        if cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        d := s.expiryForAccess(k, cur)
        if d != nil && *d == 0 {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        cur.Accessed(now, d)
        value = cur.value
        found = true
        return cur, nil
    }
    _, err := s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})
    return value, found, err
}

// applyPut is Put against a shared sink.
func (s *Store[K, V]) applyPut(sink *EventSink[K, V], key K, keyBytes []byte, value V) error {
    if err := s.checkValue(value); err != nil {
        return err
    }
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur != nil && cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            cur = nil
        }
        if cur == nil {
            d := s.expiryForCreation(k, value)
            if d != nil && *d == 0 {
                return nil, nil
            }
            sink.Created(k, value)
            return s.newResident(now, value, expirationAt(now, d)), nil
        }
        d := s.expiryForUpdate(k, cur, value)
        if d != nil && *d == 0 {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        next := s.newResident(now, value, cur.expirationTime)
        if d != nil {
            next.expirationTime = saturatingAdd(now, *d)
        }
        sink.Updated(k, cur.value, value)
        return next, nil
    }
    _, err := s.backing.remap(sink, key, keyBytes, memoize(fn), remapOpts[K, V]{})
    return err
}

// applyRemove is Remove against a shared sink.
func (s *Store[K, V]) applyRemove(sink *EventSink[K, V], key K, keyBytes []byte) error {
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        sink.Removed(k, cur.value)
        return nil, nil
    }
    _, err := s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})
    return err
}

// applyIfAbsent installs value unless a live mapping raced in since the
// first pass; the resident value wins.
func (s *Store[K, V]) applyIfAbsent(sink *EventSink[K, V], key K, keyBytes []byte, value V) (V, bool, error) {
    var result V
    installed := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur != nil && cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            cur = nil
        }
        if cur != nil {
            result = cur.value
            installed = true
            return cur, nil
        }
        d := s.expiryForCreation(k, value)
        if d != nil && *d == 0 {
            return nil, nil
        }
        sink.Created(k, value)
        result = value
        installed = true
        return s.newResident(now, value, expirationAt(now, d)), nil
    }
    _, err := s.backing.remap(sink, key, keyBytes, memoize(fn), remapOpts[K, V]{})
    return result, installed, err
}
