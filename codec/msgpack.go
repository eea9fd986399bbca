package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack is a compact binary codec. The zero value is ready to use.
// Fields fall back to their Go names unless tagged with `msgpack:"..."`;
// set UseJSONTag to reuse the json tags the API types already carry.
type Msgpack[V any] struct {
	UseJSONTag bool
}

func (m Msgpack[V]) Encode(v V) ([]byte, error) {
	if !m.UseJSONTag {
		return msgpack.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	if !m.UseJSONTag {
		err := msgpack.Unmarshal(b, &v)
		return v, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&v)
	return v, err
}
