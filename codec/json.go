package codec

import "encoding/json"

// JSON encodes values with encoding/json. The zero value is ready to use.
// It is the default because the remote API speaks JSON and cached payloads stay
// readable when inspected in an external provider such as Redis.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
