// Package codec converts cached values to and from the bytes a provider stores.
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes/decodes values V to []byte for storage.
// Decode must produce a value that is independent of b.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names accepted by ByName.
const (
	NameJSON    = "json"
	NameCBOR    = "cbor"
	NameMsgpack = "msgpack"
)

// ByName returns the codec registered under name (case-insensitive). When
// maxDecode > 0 the codec is wrapped in a Limit that refuses larger payloads.
func ByName[V any](name string, maxDecode int) (Codec[V], error) {
	var inner Codec[V]
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		inner = JSON[V]{}
	case NameCBOR:
		c, err := NewCBOR[V](true)
		if err != nil {
			return nil, err
		}
		inner = c
	case NameMsgpack:
		inner = Msgpack[V]{}
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		return Limit[V]{Inner: inner, MaxDecode: maxDecode}, nil
	}
	return inner, nil
}
