// Package json provides pooled JSON encoding and decoding backed by goccy/go-json.
//
// Response bodies are decoded with UseNumber so that integer identifiers
// survive untouched until the mapping layer decides on a destination type.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Number is re-exported so callers can type-switch on decoded numbers
type Number = gojson.Number

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetDecoder returns a decoder that keeps numbers as Number
func GetDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// GetEncoder returns an encoder with HTML escaping disabled
func GetEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// MarshalString encodes v without a trailing newline or HTML escaping.
// Map keys are emitted in sorted order.
func MarshalString(v interface{}) (string, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if err := GetEncoder(buf).Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Decode reads a single JSON value from r using Number for numerics
func Decode(r io.Reader) (interface{}, error) {
	var v interface{}
	if err := GetDecoder(r).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
