package store

// loader.go implements the *singleflight*-based de-duplication layer used
// by Store.GetOrCompute(...).  The goal is to prevent a thundering-herd
// when many goroutines request the same missing key simultaneously: only
// one loader function executes, the rest wait for its result before the
// winner's value is installed through the usual compute-if-absent path.
//
// We wrap x/sync/singleflight so that:
//   • keys remain strongly typed (K comparable) yet singleflight still
//     needs a string key → the encoded key bytes are viewed as a string
//     without copying;
//   • the loader runs *outside* any segment lock — only the install takes
//     it, so slow loaders never block unrelated keys in the same segment.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"context"

	"github.com/skbansal/ehcache3/internal/unsafehelpers"
)

// LoaderFunc produces the value for a missing key.  It may be invoked
// concurrently for different keys and must be thread-safe.  It must not
// call back into the same Store.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// GetOrCompute returns the live value for key, loading and installing it on
// a miss.  Concurrent callers for the same key share a single loader
// execution.
func (s *Store[K, V]) GetOrCompute(ctx context.Context, key K, loader LoaderFunc[K, V]) (V, error) {
    var zero V
    if v, ok, err := s.Get(key); err != nil {
        return zero, err
    } else if ok {
        return v, nil
    }

    keyBytes, err := s.prepareKey(key)
    if err != nil {
        return zero, err
    }
    flightKey := ""
    if len(keyBytes) > 0 {
        flightKey = unsafehelpers.BytesToString(keyBytes)
    }

    res, err, _ := s.loads.Do(flightKey, func() (any, error) {
        loaded, err := loader(ctx, key)
        if err != nil {
            return nil, err
        }
        v, _, err := s.ComputeIfAbsent(key, func(K) (V, error) { return loaded, nil })
        return v, err
    })
    if ctx.Err() != nil {
        return zero, ctx.Err()
    }
    if err != nil {
        return zero, err
    }
    return res.(V), nil
}
