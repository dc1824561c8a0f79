package schema

import (
	"context"
	"fmt"
)

// Serde binds a schema to a registry subject.
type Serde struct {
	schema   *Schema
	registry Registry
	subject  string
}

func NewSerde(s *Schema, registry Registry, subject string) *Serde {
	return &Serde{schema: s, registry: registry, subject: subject}
}

// Subject returns the registry subject of the serde.
func (s *Serde) Subject() string {
	return s.subject
}

// Serialize encodes native in wire format, registering the schema on first use.
func (s *Serde) Serialize(ctx context.Context, native any) ([]byte, error) {
	payload, err := s.schema.Encode(native)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.subject, err)
	}
	id, err := s.registry.Register(ctx, s.subject, s.schema)
	if err != nil {
		return nil, err
	}
	return Frame(id, payload), nil
}

// Deserialize decodes a wire-format message with the local schema. The schema
// id in the header is not resolved against the registry.
func (s *Serde) Deserialize(b []byte) (any, error) {
	return DecodeFramed(s.schema, b)
}

// DecodeFramed strips the wire-format header and decodes the payload with s.
func DecodeFramed(s *Schema, b []byte) (any, error) {
	_, payload, err := Unframe(b)
	if err != nil {
		return nil, err
	}
	return s.Decode(payload)
}
