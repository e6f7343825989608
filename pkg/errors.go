package store

// errors.go defines the error surface of the off-heap store.  The taxonomy
// is small on purpose: callers see invalid-argument sentinels, StoreAccessError
// for backing-map and allocator failures, and a panic-carried precondition
// violation for contract breaches that indicate a programming error in the
// tier above.
//
// Collaborator failures (expiry policy, eviction veto) are *not* part of this
// surface: they are caught inside the store, logged, and mapped to the
// documented defaults.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"errors"
	"fmt"
	"reflect"
)

var (
    // ErrNilKey is returned when a nil key reaches any store operation.
    ErrNilKey = errors.New("store: nil key")

    // ErrNilValue is returned when a nil value reaches a mutating operation.
    ErrNilValue = errors.New("store: nil value")

    // ErrClosed is returned by every operation after Close.
    ErrClosed = errors.New("store: closed")

    // ErrTooLarge is the terminal outcome of the oversize protocol: shrink,
    // valve and the veto walk all failed to make room for the mapping.
    ErrTooLarge = errors.New("store: element too large")

    errNilFunction = errors.New("nil function")
)

// StoreAccessError wraps a failure of the backing map or the allocator.  The
// event sink of the failing operation has already been released through the
// failure path when this error reaches the caller.
type StoreAccessError struct {
    Op  string
    Err error
}

func (e *StoreAccessError) Error() string {
    return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreAccessError) Unwrap() error { return e.Err }

func newStoreAccessError(op string, err error) *StoreAccessError {
    return &StoreAccessError{Op: op, Err: err}
}

// PreconditionError is carried by the panic raised when InstallMapping finds
// a resident mapping.  This is an assertion-level failure: the calling tier
// broke the faulting protocol.
type PreconditionError string

func (e PreconditionError) Error() string { return "store: precondition violated: " + string(e) }

// isNilArg reports whether v is nil in any of the shapes a generic type
// parameter can smuggle one in (typed nil pointer, nil map, nil slice, ...).
func isNilArg(v any) bool {
    if v == nil {
        return true
    }
    switch rv := reflect.ValueOf(v); rv.Kind() {
    case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
        return rv.IsNil()
    default:
        return false
    }
}
