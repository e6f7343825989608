package store

// store.go is the tier facade: the public contract composing the holder,
// segment, segmented map and event dispatcher under a single expiry policy
// and time source.  The Store plays two roles at once — authoritative tier
// (source of truth; this file) and lower caching tier for a faster tier
// above it (caching_tier.go).
//
// Every operation follows the same recipe:
//   1. validate arguments (nil keys/values fail fast, no side effects);
//   2. acquire an event sink from the dispatcher;
//   3. route the key to its segment and run the remap closure under the
//      segment lock — "now" is read inside the closure, expired mappings
//      are removed before the operation's own semantics apply;
//   4. release the sink (success publishes the batch, failure discards it)
//      and record the outcome for statistics.
//
// The remap closures that can install a new holder are memoized: the
// oversize retry loop re-runs the allocation, never user code.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skbansal/ehcache3/internal/arena"
)

// Store is the off-heap tier.  It is safe for any number of concurrent
// callers.
type Store[K comparable, V any] struct {
    backing    *segmentedMap[K, V]
    dispatcher StoreEventDispatcher[K, V]
    ownDisp    *eventDispatcher[K, V]
    expiry     ExpiryPolicy[K, V]
    time       TimeSource
    log        *zap.Logger
    metrics    metricsSink
    keyCodec   Codec[K]
    valCodec   Codec[V]

    invMu        sync.RWMutex
    invalidation InvalidationListener[K, V]

    loads  singleflight.Group
    closed atomic.Bool
}

// New constructs a store with the given off-heap byte budget split across a
// power-of-two number of segments.
func New[K comparable, V any](capacityBytes int64, segments int, opts ...Option[K, V]) (*Store[K, V], error) {
    cfg := defaultConfig[K, V](capacityBytes, segments)
    if err := applyOptions(cfg, opts); err != nil {
        return nil, err
    }

    s := &Store[K, V]{
        expiry:   cfg.expiry,
        time:     cfg.timeSource,
        log:      cfg.logger,
        keyCodec: cfg.keyCodec,
        valCodec: cfg.valCodec,
    }

    if cfg.dispatcher != nil {
        s.dispatcher = cfg.dispatcher
    } else {
        own := &eventDispatcher[K, V]{mode: cfg.firingMode}
        for _, l := range cfg.listeners {
            own.AddListener(l)
        }
        s.ownDisp = own
        s.dispatcher = own
    }

    ar := arena.New(cfg.capacityBytes, cfg.slabBytes)
    var veto func(K, V) bool
    if cfg.veto != nil {
        veto = s.safeVeto(cfg.veto)
    }
    s.backing = newSegmentedMap(ar, cfg.segments, cfg.valCodec, veto, cfg.valve, cfg.logger)
    s.backing.onEvict = s.onEviction

    s.metrics = newMetricsSink(cfg.registry, s.Stats)
    return s, nil
}

// Close releases every slab and stops the owned dispatcher.  Operations
// after Close fail with ErrClosed.
func (s *Store[K, V]) Close() error {
    if !s.closed.CompareAndSwap(false, true) {
        return nil
    }
    s.backing.clear()
    s.backing.arena.Reset()
    if s.ownDisp != nil {
        s.ownDisp.close()
    }
    s.log.Info("off-heap store closed")
    return nil
}

/* -------------------------------------------------------------------------
   Shared plumbing
   ------------------------------------------------------------------------- */

func (s *Store[K, V]) prepareKey(key K) ([]byte, error) {
    if s.closed.Load() {
        return nil, ErrClosed
    }
    if isNilArg(any(key)) {
        return nil, ErrNilKey
    }
    kb, err := s.keyCodec.Encode(key)
    if err != nil {
        return nil, newStoreAccessError("encode key", err)
    }
    return kb, nil
}

func (s *Store[K, V]) checkValue(value V) error {
    if isNilArg(any(value)) {
        return ErrNilValue
    }
    return nil
}

// finish releases the sink through the success or failure path and records
// the outcome.
func (s *Store[K, V]) finish(op string, sink *EventSink[K, V], outcome string, err error) error {
    if err != nil {
        s.dispatcher.ReleaseAfterFailure(sink, err)
        s.metrics.observe(op, outcomeFailure)
        return err
    }
    s.dispatcher.Release(sink)
    s.metrics.observe(op, outcome)
    return nil
}

// recordExpiry emits the expired event for a holder observed past its time.
// The caller removes the mapping in the same critical section.
func (s *Store[K, V]) recordExpiry(sink *EventSink[K, V], key K, h *ValueHolder[V]) {
    sink.Expired(key, h.value)
    s.metrics.observe(opExpiration, outcomeSuccess)
}

// onEviction is the arena-pressure callback: evicted event on the current
// sink (or a throwaway one), upper-tier invalidation, eviction counter.
func (s *Store[K, V]) onEviction(sink *EventSink[K, V], key K, h *ValueHolder[V]) {
    if sink != nil {
        sink.Evicted(key, h.value)
    } else {
        solo := s.dispatcher.EventSink()
        solo.Evicted(key, h.value)
        s.dispatcher.Release(solo)
    }
    s.notifyInvalidation(key, h)
    s.metrics.observe(opEviction, outcomeSuccess)
}

// memoize guarantees the remap closure runs at most once per operation even
// when the oversize loop retries the install.
func memoize[K comparable, V any](fn remapFunc[K, V]) remapFunc[K, V] {
    var done bool
    var h *ValueHolder[V]
    var err error
    return func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if done {
            return h, err
        }
        done = true
        h, err = fn(k, cur)
        return h, err
    }
}

/* ---------------- Panic-safe collaborator wrappers ---------------- */

func (s *Store[K, V]) expiryForCreation(key K, value V) (d *time.Duration) {
    defer s.expiryRecover(&d)
    return s.expiry.ExpiryForCreation(key, value)
}

func (s *Store[K, V]) expiryForAccess(key K, h *ValueHolder[V]) (d *time.Duration) {
    defer s.expiryRecover(&d)
    return s.expiry.ExpiryForAccess(key, h)
}

func (s *Store[K, V]) expiryForUpdate(key K, prev *ValueHolder[V], value V) (d *time.Duration) {
    defer s.expiryRecover(&d)
    return s.expiry.ExpiryForUpdate(key, prev, value)
}

// expiryRecover maps a panicking expiry policy onto a zero duration: the
// mapping expires now and the store keeps running.
func (s *Store[K, V]) expiryRecover(d **time.Duration) {
    if r := recover(); r != nil {
        s.log.Warn("expiry policy failed; treating as immediate expiry", zap.Any("panic", r))
        zero := time.Duration(0)
        *d = &zero
    }
}

// safeVeto maps a panicking veto policy onto "not vetoed".
func (s *Store[K, V]) safeVeto(fn EvictionVetoFn[K, V]) func(K, V) bool {
    return func(key K, value V) (vetoed bool) {
        defer func() {
            if r := recover(); r != nil {
                s.log.Warn("eviction veto failed; treating as not vetoed", zap.Any("panic", r))
                vetoed = false
            }
        }()
        return fn(key, value)
    }
}

// expirationAt resolves a creation/update duration into an absolute
// timestamp.  nil means no expiry for creations.
func expirationAt(now int64, d *time.Duration) int64 {
    if d == nil || *d >= Forever {
        return NoExpire
    }
    return saturatingAdd(now, *d)
}

// newResident builds the holder a mutation is about to install; the segment
// assigns the id.
func (s *Store[K, V]) newResident(now int64, value V, expiration int64) *ValueHolder[V] {
    return &ValueHolder[V]{
        creationTime:   now,
        lastAccessTime: now,
        expirationTime: expiration,
        value:          value,
    }
}

/* -------------------------------------------------------------------------
   Authoritative tier operations
   ------------------------------------------------------------------------- */

// Get returns the live value mapped to key, applying the access-touch
// policy.  An expired mapping is removed and reported as absent.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
    var zero V
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return zero, false, err
    }

    sink := s.dispatcher.EventSink()
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
    _, err = s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})

    outcome := outcomeMiss
    if found {
        outcome = outcomeHit
    }
    if err = s.finish(opGet, sink, outcome, err); err != nil {
        return zero, false, err
    }
    return value, found, nil
}

// ContainsKey reports whether a live mapping exists.  It does not touch the
// access time; it does remove a mapping it observes expired.
func (s *Store[K, V]) ContainsKey(key K) (bool, error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return false, err
    }

    sink := s.dispatcher.EventSink()
    found := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        found = true
        return cur, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})

    outcome := outcomeMiss
    if found {
        outcome = outcomeHit
    }
    if err = s.finish(opContainsKey, sink, outcome, err); err != nil {
        return false, err
    }
    return found, nil
}

// Put installs or replaces the mapping for key.
func (s *Store[K, V]) Put(key K, value V) error {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return err
    }
    if err := s.checkValue(value); err != nil {
        return err
    }

    sink := s.dispatcher.EventSink()
    outcome := outcomeNoop
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
            outcome = outcomePut
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
        outcome = outcomeReplaced
        return next, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(fn), remapOpts[K, V]{})
    return s.finish(opPut, sink, outcome, err)
}

// PutIfAbsent installs the mapping unless a live one exists; the resident
// value and true are returned on a hit.
func (s *Store[K, V]) PutIfAbsent(key K, value V) (V, bool, error) {
    var zero V
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return zero, false, err
    }
    if err := s.checkValue(value); err != nil {
        return zero, false, err
    }

    sink := s.dispatcher.EventSink()
    var prev V
    present := false
    outcome := outcomeNoop
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur != nil && cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            cur = nil
        }
        if cur != nil {
            d := s.expiryForAccess(k, cur)
            if d != nil && *d == 0 {
                s.recordExpiry(sink, k, cur)
                cur = nil
            } else {
                cur.Accessed(now, d)
                prev = cur.value
                present = true
                outcome = outcomeHit
                return cur, nil
            }
        }
        d := s.expiryForCreation(k, value)
        if d != nil && *d == 0 {
            return nil, nil
        }
        sink.Created(k, value)
        outcome = outcomePut
        return s.newResident(now, value, expirationAt(now, d)), nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(fn), remapOpts[K, V]{})
    if err = s.finish(opPutIfAbsent, sink, outcome, err); err != nil {
        return zero, false, err
    }
    return prev, present, nil
}

// Remove deletes the mapping for key, reporting whether one was present.
func (s *Store[K, V]) Remove(key K) (bool, error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return false, err
    }

    sink := s.dispatcher.EventSink()
    removed := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        sink.Removed(k, cur.value)
        removed = true
        return nil, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})

    outcome := outcomeMiss
    if removed {
        outcome = outcomeRemoved
    }
    if err = s.finish(opRemove, sink, outcome, err); err != nil {
        return false, err
    }
    return removed, nil
}

// RemoveKeyValue deletes the mapping only when the resident value equals
// the expected one.
func (s *Store[K, V]) RemoveKeyValue(key K, expected V) (RemoveStatus, error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return RemoveKeyMissing, err
    }
    if err := s.checkValue(expected); err != nil {
        return RemoveKeyMissing, err
    }

    sink := s.dispatcher.EventSink()
    status := RemoveKeyMissing
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(s.time.NowMillis()) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        if !sameEncoded(s.valCodec, expected, cur.binary) {
            status = RemoveKeyPresent
            return cur, nil
        }
        sink.Removed(k, cur.value)
        status = RemoveHit
        return nil, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, fn, remapOpts[K, V]{})

    outcome := outcomeMiss
    switch status {
    case RemoveHit:
        outcome = outcomeRemoved
    case RemoveKeyPresent:
        outcome = outcomeMissPresent
    }
    if err = s.finish(opConditionalRemove, sink, outcome, err); err != nil {
        return RemoveKeyMissing, err
    }
    return status, nil
}

// Replace swaps the value of an existing live mapping, returning the
// previous value.
func (s *Store[K, V]) Replace(key K, value V) (V, bool, error) {
    var zero V
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return zero, false, err
    }
    if err := s.checkValue(value); err != nil {
        return zero, false, err
    }

    sink := s.dispatcher.EventSink()
    var prev V
    replaced := false
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        prev = cur.value
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
        replaced = true
        return next, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(fn), remapOpts[K, V]{})

    outcome := outcomeMiss
    if replaced {
        outcome = outcomeReplaced
    }
    if err = s.finish(opReplace, sink, outcome, err); err != nil {
        return zero, false, err
    }
    return prev, replaced, nil
}

// ReplaceKeyValue swaps the value only when the resident value equals old.
func (s *Store[K, V]) ReplaceKeyValue(key K, old, new V) (ReplaceStatus, error) {
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return ReplaceMissNotPresent, err
    }
    if err := s.checkValue(old); err != nil {
        return ReplaceMissNotPresent, err
    }
    if err := s.checkValue(new); err != nil {
        return ReplaceMissNotPresent, err
    }

    sink := s.dispatcher.EventSink()
    status := ReplaceMissNotPresent
    fn := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur == nil {
            return nil, nil
        }
        if cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            return nil, nil
        }
        if !sameEncoded(s.valCodec, old, cur.binary) {
            status = ReplaceMissPresent
            return cur, nil
        }
        d := s.expiryForUpdate(k, cur, new)
        if d != nil && *d == 0 {
            s.recordExpiry(sink, k, cur)
            status = ReplaceHit
            return nil, nil
        }
        next := s.newResident(now, new, cur.expirationTime)
        if d != nil {
            next.expirationTime = saturatingAdd(now, *d)
        }
        sink.Updated(k, cur.value, new)
        status = ReplaceHit
        return next, nil
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(fn), remapOpts[K, V]{})

    outcome := outcomeMissNotPresent
    switch status {
    case ReplaceHit:
        outcome = outcomeHit
    case ReplaceMissPresent:
        outcome = outcomeMissPresent
    }
    if err = s.finish(opConditionalReplace, sink, outcome, err); err != nil {
        return ReplaceMissNotPresent, err
    }
    return status, nil
}

// Compute remaps the key through fn.  fn sees the current value (or the
// zero value with present == false) and answers with the next value and
// whether a mapping should remain.  replaceEqual, when non-nil and false,
// keeps the resident holder untouched if fn returned an equal value.  fn
// runs at most once, under the segment lock; it must not call back into the
// store for the same key.
func (s *Store[K, V]) Compute(key K, fn func(key K, value V, present bool) (V, bool), replaceEqual func() bool) (V, bool, error) {
    var zero V
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return zero, false, err
    }
    if fn == nil {
        return zero, false, newStoreAccessError(opCompute, errNilFunction)
    }

    sink := s.dispatcher.EventSink()
    var result V
    resultPresent := false
    outcome := outcomeNoop
    remap := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur != nil && cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            cur = nil
        }

        var curValue V
        if cur != nil {
            curValue = cur.value
        }
        next, keep := fn(k, curValue, cur != nil)

        switch {
        case cur == nil && !keep:
            return nil, nil

        case cur == nil:
            d := s.expiryForCreation(k, next)
            if d != nil && *d == 0 {
                return nil, nil
            }
            sink.Created(k, next)
            outcome = outcomePut
            result, resultPresent = next, true
            return s.newResident(now, next, expirationAt(now, d)), nil

        case !keep:
            sink.Removed(k, cur.value)
            outcome = outcomeRemoved
            return nil, nil

        default:
            if replaceEqual != nil && !replaceEqual() && sameEncoded(s.valCodec, next, cur.binary) {
                outcome = outcomeHit
                result, resultPresent = cur.value, true
                return cur, nil
            }
            d := s.expiryForUpdate(k, cur, next)
            if d != nil && *d == 0 {
                s.recordExpiry(sink, k, cur)
                return nil, nil
            }
            nh := s.newResident(now, next, cur.expirationTime)
            if d != nil {
                nh.expirationTime = saturatingAdd(now, *d)
            }
            sink.Updated(k, cur.value, next)
            outcome = outcomeReplaced
            result, resultPresent = next, true
            return nh, nil
        }
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(remap), remapOpts[K, V]{})
    if err = s.finish(opCompute, sink, outcome, err); err != nil {
        return zero, false, err
    }
    return result, resultPresent, nil
}

// ComputeIfAbsent installs the value produced by fn when no live mapping
// exists.  A live mapping is access-touched and returned as is.
func (s *Store[K, V]) ComputeIfAbsent(key K, fn func(key K) (V, error)) (V, bool, error) {
    return s.computeIfAbsent(key, fn, false, nil)
}

// computeIfAbsent backs ComputeIfAbsent and ComputeIfAbsentAndFault; the
// fault flavour pins on install and captures a detached copy under the
// lock.
func (s *Store[K, V]) computeIfAbsent(key K, fn func(key K) (V, error), pin bool, faulted **ValueHolder[V]) (V, bool, error) {
    var zero V
    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return zero, false, err
    }
    if fn == nil {
        return zero, false, newStoreAccessError(opComputeIfAbsent, errNilFunction)
    }

    sink := s.dispatcher.EventSink()
    var result V
    resultPresent := false
    outcome := outcomeNoop
    remap := func(k K, cur *ValueHolder[V]) (*ValueHolder[V], error) {
        now := s.time.NowMillis()
        if cur != nil && cur.IsExpired(now) {
            s.recordExpiry(sink, k, cur)
            cur = nil
        }
        if cur != nil {
            if !pin {
                d := s.expiryForAccess(k, cur)
                if d != nil && *d == 0 {
                    s.recordExpiry(sink, k, cur)
                    return nil, nil
                }
                cur.Accessed(now, d)
            }
            result, resultPresent = cur.value, true
            outcome = outcomeHit
            return cur, nil
        }
        value, err := fn(k)
        if err != nil {
            return nil, err
        }
        d := s.expiryForCreation(k, value)
        if d != nil && *d == 0 {
            return nil, nil
        }
        sink.Created(k, value)
        outcome = outcomePut
        result, resultPresent = value, true
        return s.newResident(now, value, expirationAt(now, d)), nil
    }
    opts := remapOpts[K, V]{pinOnInstall: pin}
    if faulted != nil {
        opts.onApplied = func(res *ValueHolder[V]) {
            if res != nil {
                *faulted = res.detachedCopy()
            }
        }
    }
    op := opComputeIfAbsent
    if pin {
        op = opComputeIfAbsentAndFault
    }
    _, err = s.backing.remap(sink, key, keyBytes, memoize(remap), opts)
    if err = s.finish(op, sink, outcome, err); err != nil {
        return zero, false, err
    }
    return result, resultPresent, nil
}

// Clear drops every mapping.  Per-entry events are not emitted; clearing is
// a bulk structural operation.
func (s *Store[K, V]) Clear() error {
    if s.closed.Load() {
        return ErrClosed
    }
    s.backing.clear()
    s.metrics.observe(opClear, outcomeSuccess)
    return nil
}
