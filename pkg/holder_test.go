package store

// © 2025 ehcache3 authors. MIT License.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessedKeepsExpirationOnNil(t *testing.T) {
    h := NewDetachedHolder(1, 0, 0, 5000, 0, "v", nil)
    h.Accessed(100, nil)
    assert.Equal(t, int64(100), h.LastAccessTimeMillis())
    assert.Equal(t, int64(5000), h.ExpirationTimeMillis())
    assert.Equal(t, int64(1), h.Hits())
}

func TestAccessedForever(t *testing.T) {
    h := NewDetachedHolder(1, 0, 0, 5000, 0, "v", nil)
    h.Accessed(100, Duration(Forever))
    assert.Equal(t, NoExpire, h.ExpirationTimeMillis())
}

func TestAccessedFiniteRestartsFromNow(t *testing.T) {
    h := NewDetachedHolder(1, 0, 0, 5000, 0, "v", nil)
    h.Accessed(100, Duration(2*time.Second))
    assert.Equal(t, int64(2100), h.ExpirationTimeMillis())
}

func TestAccessedSaturatesOnOverflow(t *testing.T) {
    h := NewDetachedHolder(1, 0, 0, NoExpire, 0, "v", nil)
    h.Accessed(NoExpire-10, Duration(time.Hour))
    assert.Equal(t, NoExpire, h.ExpirationTimeMillis())
}

func TestIsExpired(t *testing.T) {
    h := NewDetachedHolder(1, 0, 0, 1000, 0, "v", nil)
    assert.False(t, h.IsExpired(999))
    assert.True(t, h.IsExpired(1000))
    assert.True(t, h.IsExpired(2000))

    never := NewDetachedHolder(1, 0, 0, NoExpire, 0, "v", nil)
    assert.False(t, never.IsExpired(NoExpire))
}

func TestUpdateMetadataRequiresMatchingID(t *testing.T) {
    resident := NewDetachedHolder(7, 0, 0, 1000, 1, "v", nil)
    other := NewDetachedHolder(8, 0, 500, 2000, 9, "v", nil)

    assert.False(t, resident.UpdateMetadata(other))
    assert.Equal(t, int64(1000), resident.ExpirationTimeMillis())

    match := NewDetachedHolder(7, 0, 500, 2000, 9, "v", nil)
    assert.True(t, resident.UpdateMetadata(match))
    assert.Equal(t, int64(500), resident.LastAccessTimeMillis())
    assert.Equal(t, int64(2000), resident.ExpirationTimeMillis())
    assert.Equal(t, int64(9), resident.Hits())

    assert.False(t, resident.UpdateMetadata(nil))
}

func TestDetachedCopyIsIndependent(t *testing.T) {
    h := NewDetachedHolder(3, 10, 20, 30, 4, "v", []byte("bytes"))
    cp := h.detachedCopy()

    assert.True(t, cp.Detached())
    assert.Equal(t, h.ID(), cp.ID())
    assert.Equal(t, h.BinaryValue(), cp.BinaryValue())

    cp.Accessed(99, nil)
    assert.Equal(t, int64(20), h.LastAccessTimeMillis())
}

func TestBlockEncodeDecode(t *testing.T) {
    h := NewDetachedHolder(42, 1, 2, 3, 4, "value", nil)
    key := []byte("key")
    val := []byte("value")

    block := make([]byte, entrySize(len(key), len(val)))
    encodeBlock(block, h, key, val)

    id, creation, lastAccess, expiration, hits := decodeHeader(block)
    assert.Equal(t, int64(42), id)
    assert.Equal(t, int64(1), creation)
    assert.Equal(t, int64(2), lastAccess)
    assert.Equal(t, int64(3), expiration)
    assert.Equal(t, int64(4), hits)

    kb, vb := blockRegions(block)
    assert.Equal(t, key, kb)
    assert.Equal(t, val, vb)
}
