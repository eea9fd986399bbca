// Package codec turns cached query results into bytes and back.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names accepted by ByName.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
	NameCBOR    = "cbor"
)

// ByName returns the codec configured under name. An empty name selects JSON.
// Protobuf is not selectable here because it needs a message constructor.
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", NameJSON:
		return JSON[V]{}, nil
	case NameMsgpack:
		return Msgpack[V]{UseJSONTag: true}, nil
	case NameCBOR:
		return NewCBOR[V](true)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
