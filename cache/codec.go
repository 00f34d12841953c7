package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/jmgilman/go/errors"
)

// Codec converts values to bytes for the disk tier and back.
// The cache itself is type-agnostic; the embedding application supplies a
// codec that understands the values it stores.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// GobCodec encodes values with encoding/gob inside an interface envelope,
// so the concrete type survives a round trip. Builtin scalars and their
// slices work out of the box; other concrete types (maps, structs) must be
// registered once with RegisterType.
type GobCodec struct{}

type gobEnvelope struct{ V any }

// RegisterType makes a concrete value type known to GobCodec.
func RegisterType(v any) { gob.Register(v) }

func (GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobEnvelope{V: v}); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "gob encode %T", v)
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(b []byte) (any, error) {
	var env gobEnvelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "gob decode")
	}
	return env.V, nil
}

// JSONCodec encodes values as JSON and decodes them into a T.
// Use it when a cache instance stores a single value type.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "json encode %T", v)
	}
	return b, nil
}

func (JSONCodec[T]) Decode(b []byte) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "json decode")
	}
	return v, nil
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs struct {
	EncodeFunc func(v any) ([]byte, error)
	DecodeFunc func(b []byte) (any, error)
}

func (c CodecFuncs) Encode(v any) ([]byte, error) { return c.EncodeFunc(v) }
func (c CodecFuncs) Decode(b []byte) (any, error) { return c.DecodeFunc(b) }

// Compile-time checks.
var (
	_ Codec = GobCodec{}
	_ Codec = JSONCodec[any]{}
	_ Codec = CodecFuncs{}
)

// fallbackSize is used when a value cannot be measured.
const fallbackSize int64 = 1024

// defaultSizer estimates the footprint of v: exact for byte slices and
// strings, encoded length for everything else.
func defaultSizer(c Codec) func(any) int64 {
	return func(v any) int64 {
		switch x := v.(type) {
		case []byte:
			return int64(len(x))
		case string:
			return int64(len(x))
		}
		b, err := c.Encode(v)
		if err != nil {
			return fallbackSize
		}
		return int64(len(b))
	}
}
