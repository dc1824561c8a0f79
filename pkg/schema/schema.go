// Package schema encodes and decodes Kafka message keys and values with Avro
// schemas, using the Confluent wire format (magic byte + schema ID + Avro
// binary) so that records are readable by ksqlDB and other registry-aware
// consumers.
package schema

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// Schema is a parsed Avro schema.
type Schema struct {
	codec *goavro.Codec
}

// Parse compiles an Avro schema specification (JSON).
func Parse(spec string) (*Schema, error) {
	codec, err := goavro.NewCodec(spec)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}
	return &Schema{codec: codec}, nil
}

// MustParse is like Parse but panics on an invalid schema. It is meant for
// schemas embedded at build time.
func MustParse(spec string) *Schema {
	s, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the canonical form of the schema, which is what gets
// registered with the schema registry.
func (s *Schema) String() string {
	return s.codec.CanonicalSchema()
}

// Encode converts a native Go value (map[string]any for records) into Avro binary.
func (s *Schema) Encode(native any) ([]byte, error) {
	b, err := s.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("avro encode: %w", err)
	}
	return b, nil
}

// Decode converts Avro binary into its native Go value.
func (s *Schema) Decode(b []byte) (any, error) {
	native, rest, err := s.codec.NativeFromBinary(b)
	if err != nil {
		return nil, fmt.Errorf("avro decode: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("avro decode: %d trailing bytes", len(rest))
	}
	return native, nil
}
