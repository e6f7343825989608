// Package unsafehelpers centralises **all** unavoidable usage of the
// `unsafe` standard‑library package so that the rest of the store stays clean
// and easier to audit.  Every helper is documented with clear pre‑/post‑
// conditions.
//
// ⚠️  **DISCLAIMER**   These helpers deliberately break the Go memory‑safety
// model for the sake of zero‑allocation conversions.  Use ONLY inside this
// repository; they are not part of the public API and may change without
// notice.  Misuse will lead to subtle data‑races or garbage‑collector
// corruption.
//
// All functions are `go:linkname`‑free, cgo‑free and pure Go (1.20 or later,
// for unsafe.String).
//
// © 2025 ehcache3 authors. MIT License.

package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   1. Zero‑copy string/[]byte conversions
   ------------------------------------------------------------------------- */

// BytesToString converts a mutable byte slice to an immutable string without
// allocating.  The caller must guarantee that `b` will never be modified for
// the lifetime of the resulting string; otherwise the program exhibits
// undefined behaviour.
//
// Typical use‑case inside the store: keying the load de‑duplication group by
// an encoded key without copying it.
//
// DO NOT expose the returned string outside controlled scopes.
func BytesToString(b []byte) string {
    return unsafe.String(&b[0], len(b))
}

/* -------------------------------------------------------------------------
   2. Size helpers
   ------------------------------------------------------------------------- */

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uintptr) bool {
    return x != 0 && (x&(x-1)) == 0
}

// NextPowerOfTwo returns the smallest power of two >= x.  x must be > 0;
// block sizes in this repository stay far below the overflow range.
func NextPowerOfTwo(x uintptr) uintptr {
    if IsPowerOfTwo(x) {
        return x
    }
    p := uintptr(1)
    for p < x {
        p <<= 1
    }
    return p
}
