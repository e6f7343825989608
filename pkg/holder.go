package store

// holder.go implements the value holder: the lifecycle metadata wrapped
// around every stored value.  A holder is the unit the remap closures see,
// the unit handed to the upper tier on fault, and the unit written into the
// slab.
//
// Block layout inside the arena (little endian):
//
//   0   id              int64
//   8   creation        int64 (ms)
//   16  last access     int64 (ms)
//   24  expiration      int64 (ms, NoExpire = never)
//   32  hits            int64
//   40  key length      uint32
//   44  value length    uint32
//   48  key bytes
//   48+klen  value bytes
//
// WriteBack rewrites only the first 40 bytes; key and value bytes are
// immutable for the lifetime of the block.
//
// Every mutator on a resident holder must run under the owning segment's
// lock.  A *detached* holder is a private copy owned by the caller and may
// be mutated freely.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"encoding/binary"
	"time"

	"github.com/skbansal/ehcache3/internal/arena"
)

const (
    hdrID         = 0
    hdrCreation   = 8
    hdrLastAccess = 16
    hdrExpiration = 24
    hdrHits       = 32
    hdrKeyLen     = 40
    hdrValueLen   = 44
    hdrSize       = 48
)

// ValueHolder carries a stored value and its lifecycle metadata.
type ValueHolder[V any] struct {
    id             int64
    creationTime   int64
    lastAccessTime int64
    expirationTime int64
    hits           int64

    value  V
    binary []byte // encoded value; aliases slab memory until detached

    ref      arena.Ref
    ar       *arena.Arena
    detached bool
}

// NewDetachedHolder builds a holder that is not tracked by any arena.  Upper
// tiers and snapshot restore use it to hand mappings to InstallMapping.
func NewDetachedHolder[V any](id, creation, lastAccess, expiration, hits int64, value V, binary []byte) *ValueHolder[V] {
    return &ValueHolder[V]{
        id:             id,
        creationTime:   creation,
        lastAccessTime: lastAccess,
        expirationTime: expiration,
        hits:           hits,
        value:          value,
        binary:         binary,
        detached:       true,
    }
}

// ID returns the holder identifier, unique and strictly increasing within
// the owning segment.
func (h *ValueHolder[V]) ID() int64 { return h.id }

// Value returns the logical value.
func (h *ValueHolder[V]) Value() V { return h.value }

// BinaryValue returns the encoded form.  For resident holders the slice
// aliases slab memory; treat it as read-only and do not retain it past the
// segment lock.
func (h *ValueHolder[V]) BinaryValue() []byte { return h.binary }

// CreationTimeMillis returns the absolute creation time.
func (h *ValueHolder[V]) CreationTimeMillis() int64 { return h.creationTime }

// LastAccessTimeMillis returns the absolute last-access time.
func (h *ValueHolder[V]) LastAccessTimeMillis() int64 { return h.lastAccessTime }

// ExpirationTimeMillis returns the absolute expiration time, or NoExpire.
func (h *ValueHolder[V]) ExpirationTimeMillis() int64 { return h.expirationTime }

// Hits returns the access count.
func (h *ValueHolder[V]) Hits() int64 { return h.hits }

// IsExpired reports whether the holder is expired at the given instant.
func (h *ValueHolder[V]) IsExpired(nowMillis int64) bool {
    return h.expirationTime != NoExpire && h.expirationTime <= nowMillis
}

// Detached reports whether the holder has been handed off and is no longer
// backed by the arena.
func (h *ValueHolder[V]) Detached() bool { return h.detached }

/* -------------------------------------------------------------------------
   Mutators — segment lock required for resident holders
   ------------------------------------------------------------------------- */

// Accessed records a read at now and applies the access duration: nil keeps
// the expiration, Forever clears it, a finite duration restarts it from now.
// A zero duration must be handled by the caller *before* calling Accessed
// (the mapping is expired, not touched).
func (h *ValueHolder[V]) Accessed(nowMillis int64, d *time.Duration) {
    h.lastAccessTime = nowMillis
    h.hits++
    if d == nil {
        return
    }
    if *d >= Forever {
        h.expirationTime = NoExpire
        return
    }
    h.expirationTime = saturatingAdd(nowMillis, *d)
}

// SetExpirationMillis overrides the expiration timestamp directly.  Used by
// update paths that computed the target instant themselves.
func (h *ValueHolder[V]) SetExpirationMillis(t int64) { h.expirationTime = t }

// UpdateMetadata copies access/expiration/hit fields from other if and only
// if the identifiers match.  Reports whether the copy happened.
func (h *ValueHolder[V]) UpdateMetadata(other *ValueHolder[V]) bool {
    if other == nil || other.id != h.id {
        return false
    }
    h.lastAccessTime = other.lastAccessTime
    h.expirationTime = other.expirationTime
    h.hits = other.hits
    return true
}

// WriteBack persists the in-memory metadata into the slab block.  No-op for
// detached holders.
func (h *ValueHolder[V]) WriteBack() {
    if h.detached || h.ar == nil || !h.ref.Valid() {
        return
    }
    writeHeader(h.ar.Bytes(h.ref), h)
}

// Detach copies the binary form out of the slab and severs the arena link.
// After Detach the holder is owned by the caller; the block itself is still
// owned (and later freed) by the resident mapping.
func (h *ValueHolder[V]) Detach() {
    if h.detached {
        return
    }
    cp := make([]byte, len(h.binary))
    copy(cp, h.binary)
    h.binary = cp
    h.ar = nil
    h.ref = arena.Ref{}
    h.detached = true
}

// detachedCopy clones the holder for handoff to an upper tier, leaving the
// resident holder untouched.
func (h *ValueHolder[V]) detachedCopy() *ValueHolder[V] {
    cp := &ValueHolder[V]{
        id:             h.id,
        creationTime:   h.creationTime,
        lastAccessTime: h.lastAccessTime,
        expirationTime: h.expirationTime,
        hits:           h.hits,
        value:          h.value,
        binary:         h.binary,
    }
    cp.Detach()
    return cp
}

/* -------------------------------------------------------------------------
   Block encoding
   ------------------------------------------------------------------------- */

func writeHeader[V any](block []byte, h *ValueHolder[V]) {
    binary.LittleEndian.PutUint64(block[hdrID:], uint64(h.id))
    binary.LittleEndian.PutUint64(block[hdrCreation:], uint64(h.creationTime))
    binary.LittleEndian.PutUint64(block[hdrLastAccess:], uint64(h.lastAccessTime))
    binary.LittleEndian.PutUint64(block[hdrExpiration:], uint64(h.expirationTime))
    binary.LittleEndian.PutUint64(block[hdrHits:], uint64(h.hits))
}

// encodeBlock lays the full entry (header + key + value) into block, which
// must be at least entrySize(len(key), len(val)) bytes.
func encodeBlock[V any](block []byte, h *ValueHolder[V], key, val []byte) {
    writeHeader(block, h)
    binary.LittleEndian.PutUint32(block[hdrKeyLen:], uint32(len(key)))
    binary.LittleEndian.PutUint32(block[hdrValueLen:], uint32(len(val)))
    copy(block[hdrSize:], key)
    copy(block[hdrSize+len(key):], val)
}

// entrySize returns the exact byte footprint of an encoded entry.
func entrySize(keyLen, valLen int) int { return hdrSize + keyLen + valLen }

// blockRegions slices an encoded block into its key and value regions.
func blockRegions(block []byte) (key, val []byte) {
    klen := int(binary.LittleEndian.Uint32(block[hdrKeyLen:]))
    vlen := int(binary.LittleEndian.Uint32(block[hdrValueLen:]))
    return block[hdrSize : hdrSize+klen], block[hdrSize+klen : hdrSize+klen+vlen]
}

// decodeHeader reconstructs holder metadata from an encoded block.
func decodeHeader(block []byte) (id, creation, lastAccess, expiration, hits int64) {
    id = int64(binary.LittleEndian.Uint64(block[hdrID:]))
    creation = int64(binary.LittleEndian.Uint64(block[hdrCreation:]))
    lastAccess = int64(binary.LittleEndian.Uint64(block[hdrLastAccess:]))
    expiration = int64(binary.LittleEndian.Uint64(block[hdrExpiration:]))
    hits = int64(binary.LittleEndian.Uint64(block[hdrHits:]))
    return
}
