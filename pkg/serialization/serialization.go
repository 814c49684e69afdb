// Package serialization encodes typed values stored through the cache.
package serialization

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	JSONType = "json"
	GobType  = "gob"
)

// ErrUnsupportedType is returned by Lookup for unknown codec names.
var ErrUnsupportedType = errors.New("unsupported serialization type")

// Decoder reads one value from a stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value to a stream.
type Encoder interface {
	Encode(v any) error
}

// Codec pairs the encoder and decoder factories of one format.
type Codec struct {
	Type       string
	NewEncoder func(io.Writer) Encoder
	NewDecoder func(io.Reader) Decoder
}

var codecs = map[string]Codec{
	JSONType: {Type: JSONType, NewEncoder: JSONEncoder, NewDecoder: JSONDecoder},
	GobType:  {Type: GobType, NewEncoder: GobEncoder, NewDecoder: GobDecoder},
}

// Lookup returns the codec registered under typ. An empty typ means JSON.
func Lookup(typ string) (Codec, error) {
	if typ == "" {
		typ = JSONType
	}
	c, ok := codecs[typ]
	if !ok {
		return Codec{}, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	}
	return c, nil
}

func JSONEncoder(w io.Writer) Encoder { return json.NewEncoder(w) }

func JSONDecoder(r io.Reader) Decoder { return json.NewDecoder(r) }

// Gob values with interface fields need gob.Register.
func GobEncoder(w io.Writer) Encoder { return gob.NewEncoder(w) }

func GobDecoder(r io.Reader) Decoder { return gob.NewDecoder(r) }

// Marshal encodes v into a byte slice with the given encoder factory.
func Marshal(newEncoder func(io.Writer) Encoder, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v with the given decoder factory.
func Unmarshal(newDecoder func(io.Reader) Decoder, data []byte, v any) error {
	return newDecoder(bytes.NewReader(data)).Decode(v)
}
