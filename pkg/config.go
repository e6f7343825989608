package store

// config.go defines the internal configuration object and the set of
// functional options that can be passed to New[K,V].  A generic Option is
// used so that callbacks retain full type-safety with respect to the
// concrete key type K and value type V chosen by the user.
//
// Design notes
// ------------
// • All fields are initialised with sensible defaults in defaultConfig().
// • Options never allocate unless strictly necessary – they just capture
//   pointers to external objects (registry, logger, policies …).
// • We hide the struct from the public API: users can only influence
//   behaviour via Option[K,V].  This guarantees forward compatibility.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// EvictionVetoFn lets the embedder refuse eviction of specific entries.  A
// panic inside the function is caught, logged, and treated as "not vetoed".
type EvictionVetoFn[K comparable, V any] func(key K, value V) bool

// InvalidationListener is notified when the store drops a mapping the upper
// tier may still be caching: eviction, invalidate, get-and-remove, and the
// expired arm of install-mapping.  The holder passed is a detached copy.
type InvalidationListener[K comparable, V any] func(key K, holder *ValueHolder[V])

// Option is the functional option passed to New.  It is generic because
// most options (expiry, veto, listeners, codecs) refer to concrete K/V
// types.
type Option[K comparable, V any] func(*config[K, V])

// config bundles every knob that influences store behaviour.  All fields
// are immutable once the Store is constructed – we do not support live
// mutation from user land.
type config[K comparable, V any] struct {
    capacityBytes int64
    segments      int
    slabBytes     int

    registry   *prometheus.Registry
    logger     *zap.Logger
    timeSource TimeSource
    expiry     ExpiryPolicy[K, V]
    veto       EvictionVetoFn[K, V]
    valve      func()
    dispatcher StoreEventDispatcher[K, V]
    firingMode FiringMode
    listeners  []StoreEventListener[K, V]
    keyCodec   Codec[K]
    valCodec   Codec[V]
}

func defaultConfig[K comparable, V any](capacityBytes int64, segments int) *config[K, V] {
    return &config[K, V]{
        capacityBytes: capacityBytes,
        segments:      segments,
        logger:        zap.NewNop(),
        timeSource:    SystemTimeSource{},
        expiry:        NoExpiry[K, V](),
        firingMode:    FireSync,
        keyCodec:      JSONCodec[K](),
        valCodec:      JSONCodec[V](),
    }
}

/*
   ---------------- Functional options exposed to users ----------------
*/

// WithMetrics enables Prometheus metrics collection for the store instance.
// Passing nil disables metrics (default).
func WithMetrics[K comparable, V any](reg *prometheus.Registry) Option[K, V] {
    return func(c *config[K, V]) {
        c.registry = reg
    }
}

// WithLogger plugs an external zap.Logger.  The store never logs on the hot
// path; only slow events (oversize exhaustion, collaborator failures,
// snapshots, close) are emitted.
func WithLogger[K comparable, V any](l *zap.Logger) Option[K, V] {
    return func(c *config[K, V]) {
        if l != nil {
            c.logger = l
        }
    }
}

// WithTimeSource overrides the wall clock.  Tests drive expiry with a fake.
func WithTimeSource[K comparable, V any](ts TimeSource) Option[K, V] {
    return func(c *config[K, V]) {
        if ts != nil {
            c.timeSource = ts
        }
    }
}

// WithExpiry installs the expiry policy consulted on create, access and
// update.
func WithExpiry[K comparable, V any](p ExpiryPolicy[K, V]) Option[K, V] {
    return func(c *config[K, V]) {
        if p != nil {
            c.expiry = p
        }
    }
}

// WithEvictionVeto installs the eviction veto policy.
func WithEvictionVeto[K comparable, V any](fn EvictionVetoFn[K, V]) Option[K, V] {
    return func(c *config[K, V]) {
        c.veto = fn
    }
}

// WithEmergencyValve registers the closure invoked (at most once per
// operation) when the arena cannot allocate — typically "drain the
// write-behind queue".
func WithEmergencyValve[K comparable, V any](valve func()) Option[K, V] {
    return func(c *config[K, V]) {
        c.valve = valve
    }
}

// WithEventDispatcher replaces the built-in dispatcher.
func WithEventDispatcher[K comparable, V any](d StoreEventDispatcher[K, V]) Option[K, V] {
    return func(c *config[K, V]) {
        if d != nil {
            c.dispatcher = d
        }
    }
}

// WithAsyncEvents switches the built-in dispatcher to asynchronous
// publication.  Ignored when WithEventDispatcher is used.
func WithAsyncEvents[K comparable, V any]() Option[K, V] {
    return func(c *config[K, V]) {
        c.firingMode = FireAsync
    }
}

// WithEventListener registers a listener on the built-in dispatcher.
func WithEventListener[K comparable, V any](l StoreEventListener[K, V]) Option[K, V] {
    return func(c *config[K, V]) {
        if l != nil {
            c.listeners = append(c.listeners, l)
        }
    }
}

// WithKeyCodec overrides the default JSON key codec.
func WithKeyCodec[K comparable, V any](codec Codec[K]) Option[K, V] {
    return func(c *config[K, V]) {
        if codec != nil {
            c.keyCodec = codec
        }
    }
}

// WithValueCodec overrides the default JSON value codec.
func WithValueCodec[K comparable, V any](codec Codec[V]) Option[K, V] {
    return func(c *config[K, V]) {
        if codec != nil {
            c.valCodec = codec
        }
    }
}

// WithSlabSize tunes the arena slab granularity.  Mostly useful in tests,
// where a small slab makes the oversize protocol reachable with a handful
// of entries.
func WithSlabSize[K comparable, V any](bytes int) Option[K, V] {
    return func(c *config[K, V]) {
        if bytes > 0 {
            c.slabBytes = bytes
        }
    }
}

/*
   ---------------- Helper: apply options & validate ----------------
*/

// applyOptions copies user-supplied options into cfg and validates
// invariants.
func applyOptions[K comparable, V any](cfg *config[K, V], opts []Option[K, V]) error {
    for _, opt := range opts {
        opt(cfg)
    }

    if cfg.capacityBytes <= 0 {
        return errInvalidCapacity
    }
    if cfg.segments <= 0 || (cfg.segments&(cfg.segments-1)) != 0 {
        return errInvalidSegments
    }
    return nil
}

/*
   ---------------- Error values ----------------
*/

var (
    errInvalidCapacity = errors.New("capacity bytes must be > 0")
    errInvalidSegments = errors.New("segments must be power-of-two and > 0")
)
