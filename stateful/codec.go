package stateful

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec determines how states are encoded.
type Codec interface {
	Encode(w io.Writer, data map[string]any) error
	Decode(r io.Reader) (map[string]any, error)
}

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec(), nil
	default:
		return nil, fmt.Errorf("stateful: unknown codec %q", name)
	}
}

// JSONCodec encodes states as indented JSON.
type JSONCodec struct{}

// Encode writes the data map as JSON to the provided writer.
func (c JSONCodec) Encode(w io.Writer, data map[string]any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Decode reads JSON data from the reader and returns it as a map.
func (c JSONCodec) Decode(r io.Reader) (map[string]any, error) {
	decoder := json.NewDecoder(r)

	var data map[string]any

	err := decoder.Decode(&data)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// CBORCodec encodes states as CBOR. Nested maps decode as map[string]any
// so that states do not need to care which codec was used.
type CBORCodec struct {
	dec cbor.DecMode
}

// NewCBORCodec creates a CBORCodec.
func NewCBORCodec() CBORCodec {
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return CBORCodec{dec: dec}
}

// Encode writes the data map as CBOR.
func (c CBORCodec) Encode(w io.Writer, data map[string]any) error {
	return cbor.NewEncoder(w).Encode(data)
}

// Decode reads a CBOR map.
func (c CBORCodec) Decode(r io.Reader) (map[string]any, error) {
	if c.dec == nil {
		c = NewCBORCodec()
	}

	var data map[string]any

	err := c.dec.NewDecoder(r).Decode(&data)
	if err != nil {
		return nil, err
	}

	return data, nil
}
