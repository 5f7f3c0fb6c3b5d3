package stable

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrSchemaMismatch is returned when a stored value was written with a
// different encoding version than the codec expects.
var ErrSchemaMismatch = errors.New("stable: schema version mismatch")

// Codec converts values to and from their persisted form. Encodings must be
// stable across restarts: a value written by one process has to decode in the
// next one.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec stores values as a one-byte schema version followed by JSON.
type JSONCodec[V any] struct {
	Version byte
}

// NewJSONCodec returns a JSONCodec for the given schema version.
func NewJSONCodec[V any](version byte) JSONCodec[V] {
	return JSONCodec[V]{Version: version}
}

// Encode implements Codec.
func (c JSONCodec[V]) Encode(v V) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, c.Version)
	return append(out, body...), nil
}

// Decode implements Codec.
func (c JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	if len(data) == 0 {
		return v, fmt.Errorf("decode value: %w: empty record", ErrSchemaMismatch)
	}
	if data[0] != c.Version {
		return v, fmt.Errorf("decode value: %w: stored v%d, expected v%d", ErrSchemaMismatch, data[0], c.Version)
	}
	if err := json.Unmarshal(data[1:], &v); err != nil {
		return v, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
