package bus

import (
	"encoding/json"
	"os"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Schema is the subset of an Avro record schema used to shape bus
// payloads: the field list with union types such as ["null", "string"].
type Schema struct {
	Fields []SchemaField `json:"fields"`
}

// SchemaField is one named field and its Avro type union.
type SchemaField struct {
	Name string    `json:"name"`
	Type TypeUnion `json:"type"`
}

// TypeUnion accepts both a single type name and a union array.
type TypeUnion []string

// UnmarshalJSON implements json.Unmarshaler
func (t *TypeUnion) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeUnion{single}
		return nil
	}
	var union []string
	if err := json.Unmarshal(data, &union); err != nil {
		return err
	}
	*t = union
	return nil
}

// Primary returns the first non-null type, or "" when there is none.
func (t TypeUnion) Primary() string {
	for _, name := range t {
		if name != "null" {
			return name
		}
	}
	return ""
}

// LoadSchema reads a schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Schema", "LoadSchema", "read "+path)
	}
	return ParseSchema(data)
}

// ParseSchema decodes a schema and requires at least one field.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.WrapInvalid(err, "Schema", "ParseSchema", "decode schema")
	}
	if len(s.Fields) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Schema", "ParseSchema", "schema has no fields")
	}
	for _, f := range s.Fields {
		if f.Name == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Schema", "ParseSchema", "schema field without name")
		}
	}
	return &s, nil
}

// Shape emits every schema field. Present non-nil values are wrapped in
// their Avro JSON union form {"<type>": value}; absent or nil values and
// fields without a non-null type become null. Record fields outside the
// schema are dropped.
func (s *Schema) Shape(rec record.Record) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		value, ok := rec[f.Name]
		primary := f.Type.Primary()
		if !ok || value == nil || primary == "" {
			out[f.Name] = nil
			continue
		}
		out[f.Name] = map[string]any{primary: value}
	}
	return out
}

// avroTypes are the primitive type names Shape may use as union keys.
var avroTypes = map[string]bool{
	"null": true, "boolean": true, "int": true, "long": true,
	"float": true, "double": true, "bytes": true, "string": true,
}

// Unwrap reverses the union wrapping applied by Shape, in place. A value
// that is an object with exactly one key naming an Avro primitive type is
// replaced by the wrapped value. Records are flat, so no other value is an
// object.
func Unwrap(rec map[string]any) {
	for field, value := range rec {
		wrapped, ok := value.(map[string]any)
		if !ok || len(wrapped) != 1 {
			continue
		}
		for typ, inner := range wrapped {
			if avroTypes[typ] {
				rec[field] = inner
			}
		}
	}
}
