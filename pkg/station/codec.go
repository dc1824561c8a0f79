package station

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edgeflare/stations/pkg/schema"
)

// ErrMalformedRecord is returned for records with missing or invalid fields.
var ErrMalformedRecord = errors.New("malformed station record")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}

// jsonRecord mirrors Record with every field optional so that absent fields
// can be told apart from zero values.
type jsonRecord struct {
	StopID                 *int    `json:"stop_id"`
	DirectionID            *string `json:"direction_id"`
	StopName               *string `json:"stop_name"`
	StationName            *string `json:"station_name"`
	StationDescriptiveName *string `json:"station_descriptive_name"`
	StationID              *int    `json:"station_id"`
	Order                  *int    `json:"order"`
	Red                    *bool   `json:"red"`
	Blue                   *bool   `json:"blue"`
	Green                  *bool   `json:"green"`
}

// Decode parses a raw station message. Values in schema-registry wire format
// are decoded with RecordSchema; anything else is read as JSON, either bare or
// wrapped in a Kafka Connect {"schema", "payload"} envelope.
func Decode(b []byte) (Record, error) {
	if len(b) == 0 {
		return Record{}, malformed("empty value")
	}
	if schema.IsFramed(b) {
		native, err := schema.DecodeFramed(RecordSchema, b)
		if err != nil {
			return Record{}, malformed("%v", err)
		}
		return RecordFromNative(native)
	}
	return decodeJSON(b)
}

func decodeJSON(b []byte) (Record, error) {
	var envelope struct {
		Schema  json.RawMessage `json:"schema"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return Record{}, malformed("%v", err)
	}
	if envelope.Schema != nil && envelope.Payload != nil {
		b = envelope.Payload
	}

	var raw jsonRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return Record{}, malformed("%v", err)
	}

	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("stop_id", raw.StopID != nil)
	check("direction_id", raw.DirectionID != nil)
	check("stop_name", raw.StopName != nil)
	check("station_name", raw.StationName != nil)
	check("station_descriptive_name", raw.StationDescriptiveName != nil)
	check("station_id", raw.StationID != nil)
	check("order", raw.Order != nil)
	check("red", raw.Red != nil)
	check("blue", raw.Blue != nil)
	check("green", raw.Green != nil)
	if len(missing) > 0 {
		return Record{}, malformed("missing fields %v", missing)
	}

	r := Record{
		StopID:                 *raw.StopID,
		DirectionID:            *raw.DirectionID,
		StopName:               *raw.StopName,
		StationName:            *raw.StationName,
		StationDescriptiveName: *raw.StationDescriptiveName,
		StationID:              *raw.StationID,
		Order:                  *raw.Order,
		ServesRed:              *raw.Red,
		ServesBlue:             *raw.Blue,
		ServesGreen:            *raw.Green,
	}
	return r, r.Validate()
}

// Validate checks field values that the wire types cannot express.
func (r Record) Validate() error {
	if r.StationID <= 0 {
		return malformed("station_id must be positive, got %d", r.StationID)
	}
	return nil
}

// Native returns r in the shape expected by RecordSchema.
func (r Record) Native() map[string]any {
	return map[string]any{
		"stop_id":                  r.StopID,
		"direction_id":             r.DirectionID,
		"stop_name":                r.StopName,
		"station_name":             r.StationName,
		"station_descriptive_name": r.StationDescriptiveName,
		"station_id":               r.StationID,
		"order":                    r.Order,
		"red":                      r.ServesRed,
		"blue":                     r.ServesBlue,
		"green":                    r.ServesGreen,
	}
}

// RecordFromNative converts a value decoded with RecordSchema.
func RecordFromNative(native any) (Record, error) {
	m, ok := native.(map[string]any)
	if !ok {
		return Record{}, malformed("expected record, got %T", native)
	}
	f := fields{m: m}
	r := Record{
		StopID:                 f.int("stop_id"),
		DirectionID:            f.string("direction_id"),
		StopName:               f.string("stop_name"),
		StationName:            f.string("station_name"),
		StationDescriptiveName: f.string("station_descriptive_name"),
		StationID:              f.int("station_id"),
		Order:                  f.int("order"),
		ServesRed:              f.bool("red"),
		ServesBlue:             f.bool("blue"),
		ServesGreen:            f.bool("green"),
	}
	if f.err != nil {
		return Record{}, f.err
	}
	return r, r.Validate()
}

// Native returns v in the shape expected by ViewSchema.
func (v View) Native() map[string]any {
	return map[string]any{
		"station_id":   v.StationID,
		"station_name": v.StationName,
		"order":        v.Order,
		"line":         string(v.Line),
	}
}

// EncodeView encodes v with ViewSchema in wire format under schema id.
func EncodeView(id int32, v View) ([]byte, error) {
	payload, err := ViewSchema.Encode(v.Native())
	if err != nil {
		return nil, err
	}
	return schema.Frame(id, payload), nil
}

// DecodeView decodes a stations table value in wire format.
func DecodeView(b []byte) (View, error) {
	native, err := schema.DecodeFramed(ViewSchema, b)
	if err != nil {
		return View{}, err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return View{}, fmt.Errorf("expected record, got %T", native)
	}
	f := fields{m: m}
	v := View{
		StationID:   f.int("station_id"),
		StationName: f.string("station_name"),
		Order:       f.int("order"),
		Line:        Line(f.string("line")),
	}
	if f.err != nil {
		return View{}, f.err
	}
	if !v.Line.Valid() {
		return View{}, fmt.Errorf("invalid line %q for station %d", v.Line, v.StationID)
	}
	return v, nil
}

// fields reads typed values out of an Avro native record, keeping the first error.
type fields struct {
	m   map[string]any
	err error
}

func (f *fields) get(name string) (any, bool) {
	if f.err != nil {
		return nil, false
	}
	v, ok := f.m[name]
	if !ok {
		f.err = malformed("missing field %s", name)
	}
	return v, ok
}

func (f *fields) int(name string) int {
	v, ok := f.get(name)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	f.err = malformed("field %s: expected int, got %T", name, v)
	return 0
}

func (f *fields) string(name string) string {
	v, ok := f.get(name)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.err = malformed("field %s: expected string, got %T", name, v)
	}
	return s
}

func (f *fields) bool(name string) bool {
	v, ok := f.get(name)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.err = malformed("field %s: expected boolean, got %T", name, v)
	}
	return b
}
