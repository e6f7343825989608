package store

// codec.go defines the byte codec consumed by the store.  Keys and values
// cross the heap boundary exactly once per install: they are encoded, the
// bytes are copied into a slab block, and the logical value rides along in
// the holder so reads never decode.  The store never looks inside the encoded
// form; the codec is a collaborator, not an implementation detail of ours.
//
// © 2025 ehcache3 authors. MIT License.

import (
	"bytes"
	"encoding/json"
)

// Codec translates a logical value to and from its binary form.
type Codec[T any] interface {
    Encode(T) ([]byte, error)
    Decode([]byte) (T, error)
}

// StringCodec is the zero-overhead codec for string payloads.
type StringCodec struct{}

func (StringCodec) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (StringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// BytesCodec passes byte slices through, copying on decode so callers never
// alias slab memory.
type BytesCodec struct{}

func (BytesCodec) Encode(b []byte) ([]byte, error) { return b, nil }
func (BytesCodec) Decode(b []byte) ([]byte, error) {
    out := make([]byte, len(b))
    copy(out, b)
    return out, nil
}

// jsonCodec is the default for arbitrary key and value types.
type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec[T]) Decode(b []byte) (T, error) {
    var v T
    err := json.Unmarshal(b, &v)
    return v, err
}

// JSONCodec returns a codec that round-trips T through encoding/json.
func JSONCodec[T any]() Codec[T] { return jsonCodec[T]{} }

// sameEncoded reports logical equality of two values by comparing encoded
// forms.  Conditional remove/replace and the compute replace-equals hook use
// this; type parameters are not required to be comparable beyond the key.
func sameEncoded[T any](c Codec[T], a T, b []byte) bool {
    enc, err := c.Encode(a)
    if err != nil {
        return false
    }
    return bytes.Equal(enc, b)
}
